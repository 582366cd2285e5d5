package hook

import (
	"github.com/wippyai/scriptbridge"
)

// CodeMemory is an address space whose executable pages can be patched.
type CodeMemory interface {
	scriptbridge.Memory

	// WriteCode overwrites instructions at addr and makes the change visible
	// to the instruction stream.
	WriteCode(addr uintptr, code []byte) error
	// AllocCode allocates executable memory within rel32 reach of near.
	AllocCode(near, size uintptr) (uintptr, error)
	// FreeCode releases memory returned by AllocCode.
	FreeCode(addr uintptr)
}

// Thread is a thread whose instruction pointer may sit inside a patched
// prologue while a transaction commits.
type Thread interface {
	ID() uint32
	// IsCurrent reports whether this is the thread running the commit. The
	// current thread is never suspended.
	IsCurrent() bool
	Suspend() error
	Resume() error
	PC() (uintptr, error)
	SetPC(pc uintptr) error
}
