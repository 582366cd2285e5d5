package mainthread

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/scriptbridge/errors"
)

// Marshaler posts work to the host thread. Post returns once the work is
// queued; it never waits for the work to run.
type Marshaler interface {
	Post(fn func()) error
}

// Registry owns posted work items until they are dispatched.
type Registry struct {
	mu     sync.Mutex
	next   uintptr
	cookie uintptr
	items  map[uintptr]func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		next:   1,
		cookie: uintptr(rand.Uint64()) | 1,
		items:  make(map[uintptr]func()),
	}
}

// Box stores fn and returns the payload that names it.
func (r *Registry) Box(fn func()) (wparam, lparam uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.items[id] = fn
	return id, id ^ r.cookie
}

func (r *Registry) take(wparam, lparam uintptr) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wparam^r.cookie != lparam {
		return nil, false
	}
	fn, ok := r.items[wparam]
	if ok {
		delete(r.items, wparam)
	}
	return fn, ok
}

// Cancel drops an item whose payload could not be posted.
func (r *Registry) Cancel(wparam, lparam uintptr) {
	r.take(wparam, lparam)
}

// Dispatch runs the item named by the payload. It reports whether an item
// ran. A panicking item is logged and counts as dispatched.
func (r *Registry) Dispatch(wparam, lparam uintptr) bool {
	fn, ok := r.take(wparam, lparam)
	if !ok {
		Logger().Warn("ignoring unknown work item",
			zap.Uintptr("wparam", wparam),
			zap.Uintptr("lparam", lparam))
		return false
	}
	if err := run(fn); err != nil {
		Logger().Error("work item panicked", zap.Error(err))
	}
	return true
}

// Pending reports how many items are boxed but not dispatched.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func run(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.PhaseMarshal, errors.KindDefect).
				Value(p).
				Detail("%s", fmt.Sprint(p)).
				Build()
		}
	}()
	fn()
	return nil
}
