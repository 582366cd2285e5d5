//go:build windows && amd64

package hook

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
)

// CONTEXT layout used for RIP access.
const (
	contextSize      = 1232
	contextAlign     = 16
	contextFlagsOff  = 0x30
	contextRipOff    = 0xf8
	contextControl   = 0x100001
	threadAccessMask = windows.THREAD_SUSPEND_RESUME | windows.THREAD_GET_CONTEXT | windows.THREAD_SET_CONTEXT | windows.SYNCHRONIZE
)

var (
	procSuspendThread    = kernel32.NewProc("SuspendThread")
	procGetThreadContext = kernel32.NewProc("GetThreadContext")
	procSetThreadContext = kernel32.NewProc("SetThreadContext")
)

// OSThread is a thread of the current process.
type OSThread struct {
	handle windows.Handle
	id     uint32
}

// OpenThread opens a thread of the current process by id.
func OpenThread(id uint32) (*OSThread, error) {
	h, err := windows.OpenThread(threadAccessMask, false, id)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "OpenThread")
	}
	return &OSThread{handle: h, id: id}, nil
}

// CurrentThread opens the calling thread.
func CurrentThread() (*OSThread, error) {
	return OpenThread(windows.GetCurrentThreadId())
}

// Close releases the thread handle.
func (t *OSThread) Close() error {
	return windows.CloseHandle(t.handle)
}

// Handle returns the thread handle.
func (t *OSThread) Handle() windows.Handle { return t.handle }

// ID implements Thread.
func (t *OSThread) ID() uint32 { return t.id }

// IsCurrent implements Thread.
func (t *OSThread) IsCurrent() bool { return t.id == windows.GetCurrentThreadId() }

// Suspend implements Thread.
func (t *OSThread) Suspend() error {
	r1, _, e1 := syscall.SyscallN(procSuspendThread.Addr(), uintptr(t.handle))
	if int32(r1) == -1 {
		return errors.Wrap(errors.PhaseHook, errors.KindOSStatus, e1, "SuspendThread")
	}
	return nil
}

// Resume implements Thread.
func (t *OSThread) Resume() error {
	if _, err := windows.ResumeThread(t.handle); err != nil {
		return errors.Wrap(errors.PhaseHook, errors.KindOSStatus, err, "ResumeThread")
	}
	return nil
}

// newContext returns a 16-byte aligned CONTEXT buffer.
func newContext() ([]byte, unsafe.Pointer) {
	buf := make([]byte, contextSize+contextAlign)
	off := (contextAlign - uintptr(unsafe.Pointer(&buf[0]))%contextAlign) % contextAlign
	ctx := buf[off : off+contextSize]
	*(*uint32)(unsafe.Pointer(&ctx[contextFlagsOff])) = contextControl
	return buf, unsafe.Pointer(&ctx[0])
}

// PC implements Thread.
func (t *OSThread) PC() (uintptr, error) {
	buf, ctx := newContext()
	r1, _, e1 := syscall.SyscallN(procGetThreadContext.Addr(), uintptr(t.handle), uintptr(ctx))
	if r1 == 0 {
		return 0, errors.Wrap(errors.PhaseHook, errors.KindOSStatus, e1, "GetThreadContext")
	}
	pc := *(*uint64)(unsafe.Add(ctx, contextRipOff))
	_ = buf
	return uintptr(pc), nil
}

// SetPC implements Thread.
func (t *OSThread) SetPC(pc uintptr) error {
	buf, ctx := newContext()
	r1, _, e1 := syscall.SyscallN(procGetThreadContext.Addr(), uintptr(t.handle), uintptr(ctx))
	if r1 == 0 {
		return errors.Wrap(errors.PhaseHook, errors.KindOSStatus, e1, "GetThreadContext")
	}
	*(*uint64)(unsafe.Add(ctx, contextRipOff)) = uint64(pc)
	r1, _, e1 = syscall.SyscallN(procSetThreadContext.Addr(), uintptr(t.handle), uintptr(ctx))
	_ = buf
	if r1 == 0 {
		return errors.Wrap(errors.PhaseHook, errors.KindOSStatus, e1, "SetThreadContext")
	}
	return nil
}
