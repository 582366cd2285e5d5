//go:build windows && amd64

package mainthread

import (
	"sync"
	"syscall"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
)

// MessageID is the private message carrying work payloads.
const MessageID = 0x0400 + 10 // WM_USER + 10

const (
	subclassID    = 0x4c43 // "LC"
	whGetMessage  = 3
	wmNull        = 0
	attachTimeout = 10 * time.Second
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procPostMessageW        = user32.NewProc("PostMessageW")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")

	comctl32                 = windows.NewLazySystemDLL("comctl32.dll")
	procSetWindowSubclass    = comctl32.NewProc("SetWindowSubclass")
	procRemoveWindowSubclass = comctl32.NewProc("RemoveWindowSubclass")
	procDefSubclassProc      = comctl32.NewProc("DefSubclassProc")

	// Callbacks are process-global and never released by the Go runtime, so
	// they are created once.
	callbacksOnce   sync.Once
	subclassProc    uintptr
	getMessageProc  uintptr
	windowsMu       sync.Mutex
	windowsByHandle = make(map[windows.HWND]*Window)
	pendingAttach   = make(map[uint32]*Window)
)

func initCallbacks() {
	callbacksOnce.Do(func() {
		subclassProc = windows.NewCallback(onSubclass)
		getMessageProc = windows.NewCallback(onGetMessage)
	})
}

// Window posts work to the thread that owns a host window.
type Window struct {
	hwnd     windows.HWND
	threadID uint32
	reg      *Registry
	attached chan error
	mu       sync.Mutex
	closed   bool
}

// Subclass installs the work-item handler on hwnd. When called from another
// thread, the subclass is installed from inside the owning thread's message
// pump.
func Subclass(hwnd windows.HWND) (*Window, error) {
	initCallbacks()

	tid, err := windows.GetWindowThreadProcessId(hwnd, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindOSStatus, err, "GetWindowThreadProcessId")
	}
	w := &Window{hwnd: hwnd, threadID: tid, reg: NewRegistry(), attached: make(chan error, 1)}

	windowsMu.Lock()
	windowsByHandle[hwnd] = w
	windowsMu.Unlock()

	if tid == windows.GetCurrentThreadId() {
		if err := w.install(); err != nil {
			w.forget()
			return nil, err
		}
		return w, nil
	}
	if err := w.installRemote(); err != nil {
		w.forget()
		return nil, err
	}
	return w, nil
}

func (w *Window) forget() {
	windowsMu.Lock()
	delete(windowsByHandle, w.hwnd)
	windowsMu.Unlock()
}

func (w *Window) install() error {
	r1, _, e1 := syscall.SyscallN(procSetWindowSubclass.Addr(),
		uintptr(w.hwnd), subclassProc, subclassID, 0)
	if r1 == 0 {
		return errors.Wrap(errors.PhaseMarshal, errors.KindOSStatus, e1, "SetWindowSubclass")
	}
	return nil
}

func (w *Window) installRemote() error {
	windowsMu.Lock()
	pendingAttach[w.threadID] = w
	windowsMu.Unlock()
	defer func() {
		windowsMu.Lock()
		delete(pendingAttach, w.threadID)
		windowsMu.Unlock()
	}()

	hook, _, e1 := syscall.SyscallN(procSetWindowsHookExW.Addr(),
		whGetMessage, getMessageProc, 0, uintptr(w.threadID))
	if hook == 0 {
		return errors.Wrap(errors.PhaseMarshal, errors.KindOSStatus, e1, "SetWindowsHookExW")
	}
	defer syscall.SyscallN(procUnhookWindowsHookEx.Addr(), hook)

	// Wake the pump so the hook runs even when the queue is idle.
	if err := postMessage(w.hwnd, wmNull, 0, 0); err != nil {
		return err
	}
	select {
	case err := <-w.attached:
		return err
	case <-time.After(attachTimeout):
		return errors.New(errors.PhaseMarshal, errors.KindNotInitialized).
			Detail("host thread %d did not pump messages within %s", w.threadID, attachTimeout).
			Build()
	}
}

func onGetMessage(code, wparam, lparam uintptr) uintptr {
	windowsMu.Lock()
	w := pendingAttach[windows.GetCurrentThreadId()]
	if w != nil {
		delete(pendingAttach, w.threadID)
	}
	windowsMu.Unlock()
	if w != nil {
		w.attached <- w.install()
	}
	r1, _, _ := syscall.SyscallN(procCallNextHookEx.Addr(), 0, code, wparam, lparam)
	return r1
}

func onSubclass(hwnd, msg, wparam, lparam, id, ref uintptr) uintptr {
	if msg == MessageID && id == subclassID {
		windowsMu.Lock()
		w := windowsByHandle[windows.HWND(hwnd)]
		windowsMu.Unlock()
		if w != nil {
			w.reg.Dispatch(wparam, lparam)
			return 0
		}
	}
	r1, _, _ := syscall.SyscallN(procDefSubclassProc.Addr(), hwnd, msg, wparam, lparam)
	return r1
}

func postMessage(hwnd windows.HWND, msg uint32, wparam, lparam uintptr) error {
	r1, _, e1 := syscall.SyscallN(procPostMessageW.Addr(), uintptr(hwnd), uintptr(msg), wparam, lparam)
	if r1 == 0 {
		return errors.Wrap(errors.PhaseMarshal, errors.KindOSStatus, e1, "PostMessageW")
	}
	return nil
}

// ThreadID returns the id of the thread that owns the window.
func (w *Window) ThreadID() uint32 { return w.threadID }

// Handle returns the window handle.
func (w *Window) Handle() windows.HWND { return w.hwnd }

// Post implements Marshaler.
func (w *Window) Post(fn func()) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return errors.NotInitialized(errors.PhaseMarshal, "window subclass")
	}
	wp, lp := w.reg.Box(fn)
	if err := postMessage(w.hwnd, MessageID, wp, lp); err != nil {
		w.reg.Cancel(wp, lp)
		return err
	}
	return nil
}

// Close removes the subclass from the owning thread.
func (w *Window) Close() error {
	done := make(chan struct{})
	err := w.Post(func() {
		defer close(done)
		r1, _, e1 := syscall.SyscallN(procRemoveWindowSubclass.Addr(), uintptr(w.hwnd), subclassProc, subclassID)
		if r1 == 0 {
			Logger().Warn("RemoveWindowSubclass failed", zap.Error(e1))
		}
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	select {
	case <-done:
	case <-time.After(attachTimeout):
		Logger().Warn("window subclass removal timed out", zap.Uint32("thread", w.threadID))
	}
	w.forget()
	return nil
}

// FindWindow returns the first top-level window of the current process whose
// class name is className.
func FindWindow(className string) (windows.HWND, error) {
	pid := windows.GetCurrentProcessId()
	var found windows.HWND
	buf := make([]uint16, 256)
	cb := windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		var owner uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &owner); err != nil || owner != pid {
			return 1
		}
		n, err := windows.GetClassName(hwnd, &buf[0], int32(len(buf)))
		if err != nil || windows.UTF16ToString(buf[:n]) != className {
			return 1
		}
		found = hwnd
		return 0
	})
	// EnumWindows reports an error when the callback stops the walk early.
	_ = windows.EnumWindows(cb, unsafe.Pointer(nil))
	if found == 0 {
		return 0, errors.NotFound(errors.PhaseMarshal, "window class", className)
	}
	return found, nil
}
