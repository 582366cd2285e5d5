package mainthread

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

type message struct {
	wparam, lparam uintptr
}

// Loop is a message loop on a dedicated, locked OS thread. After every
// message it runs the idle hook, the way a host runs one frame of its own
// work per pump.
type Loop struct {
	reg   *Registry
	queue chan message
	idle  func()

	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}
	done    chan struct{}
	posts   atomic.Int64
}

// NewLoop starts a loop. idle may be nil.
func NewLoop(idle func()) *Loop {
	l := &Loop{
		reg:   NewRegistry(),
		queue: make(chan message, 256),
		idle:  idle,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	for {
		select {
		case m := <-l.queue:
			l.reg.Dispatch(m.wparam, m.lparam)
			if l.idle != nil {
				if err := run(l.idle); err != nil {
					Logger().Error("idle hook panicked", zap.Error(err))
				}
			}
		case <-l.quit:
			return
		}
	}
}

// Post implements Marshaler.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return errors.NotInitialized(errors.PhaseMarshal, "message loop")
	}
	w, p := l.reg.Box(fn)
	select {
	case l.queue <- message{wparam: w, lparam: p}:
		l.posts.Add(1)
		return nil
	default:
		l.reg.Cancel(w, p)
		return errors.New(errors.PhaseMarshal, errors.KindAllocation).
			Detail("message queue full").
			Build()
	}
}

// Inject delivers a raw payload as if another sender had posted it.
func (l *Loop) Inject(wparam, lparam uintptr) {
	l.queue <- message{wparam: wparam, lparam: lparam}
}

// Posts reports how many items were queued.
func (l *Loop) Posts() int {
	return int(l.posts.Load())
}

// Stop ends the loop after the message being processed. Queued items are
// dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.quit)
	l.mu.Unlock()
	<-l.done
}
