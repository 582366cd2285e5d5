package native

import (
	"fmt"

	"github.com/wippyai/scriptbridge/errors"
)

// Conv identifies a calling convention.
type Conv uint8

const (
	// ConvWin64 is the Microsoft x64 convention used for free functions.
	ConvWin64 Conv = iota
	// ConvMember is a non-virtual member function; this is the first argument.
	ConvMember
	// ConvCdecl is the x86 C convention. Not callable on x64 hosts.
	ConvCdecl
)

func (c Conv) String() string {
	switch c {
	case ConvWin64:
		return "win64"
	case ConvMember:
		return "member"
	case ConvCdecl:
		return "cdecl"
	default:
		return fmt.Sprintf("conv(%d)", uint8(c))
	}
}

// Func is a native call descriptor.
type Func struct {
	Name string
	Addr uintptr
	Conv Conv
}

// Valid reports whether the descriptor has been resolved.
func (f Func) Valid() bool {
	return f.Addr != 0
}

func (f Func) String() string {
	return fmt.Sprintf("%s@%#x(%s)", f.Name, f.Addr, f.Conv)
}

// Caller invokes native functions.
type Caller interface {
	Call(fn Func, args ...uintptr) (uintptr, error)
}

// Callbacks turns Go functions into native entry points. fn must be a func
// taking only uintptr arguments and returning a single uintptr.
type Callbacks interface {
	NewCallback(fn any) (uintptr, error)
}

// Module identifies a loaded host module.
type Module struct {
	Name string
	Path string
	Base uintptr
}

// Bool converts a Go bool to a native argument.
func Bool(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}

func checkCallable(fn Func) error {
	if !fn.Valid() {
		return errors.New(errors.PhaseHost, errors.KindNotInitialized).
			Symbol(fn.Name).
			Detail("call through unresolved function").
			Build()
	}
	if fn.Conv == ConvCdecl {
		return errors.New(errors.PhaseHost, errors.KindUnsupported).
			Symbol(fn.Name).
			Detail("calling convention %s is not available on this target", fn.Conv).
			Build()
	}
	return nil
}
