package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseSymbols Phase = "symbols" // debug-information queries
	PhaseLocate  Phase = "locate"  // function and global lookup
	PhaseHook    Phase = "hook"    // inline hook transactions
	PhaseShim    Phase = "shim"    // vtable shim construction
	PhaseMarshal Phase = "marshal" // posting work to the host thread
	PhaseBridge  Phase = "bridge"  // binding resolution and script requests
	PhaseConfig  Phase = "config"  // configuration loading
	PhaseHost    Phase = "host"    // native calls into the host
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindFieldMissing   Kind = "field_missing"
	KindOSStatus       Kind = "os_status"
	KindTransaction    Kind = "transaction"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindUnsupported    Kind = "unsupported"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindNotInitialized Kind = "not_initialized"
	KindDefect         Kind = "defect"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string
	Symbol string
	Detail string
	Status uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Type != "" || e.Symbol != "" {
		b.WriteString(" at ")
		switch {
		case e.Type != "" && e.Symbol != "":
			b.WriteString(e.Type)
			b.WriteByte('.')
			b.WriteString(e.Symbol)
		case e.Type != "":
			b.WriteString(e.Type)
		default:
			b.WriteString(e.Symbol)
		}
	}

	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Type sets the composite type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Symbol sets the symbol or member name
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
	return b
}

// Status sets the OS-level status code
func (b *Builder) Status(code uint32) *Builder {
	b.err.Status = code
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MemberMissing creates an error for a member the type does not declare
func MemberMissing(typeName, member string) *Error {
	return &Error{
		Phase:  PhaseSymbols,
		Kind:   KindFieldMissing,
		Type:   typeName,
		Symbol: member,
		Detail: fmt.Sprintf("member %q not found", member),
	}
}

// NotFound creates a not-found error for a named symbol
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Symbol: name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Status creates an error for a failed OS call
func Status(phase Phase, op string, code uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOSStatus,
		Status: code,
		Detail: op,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Value:  size,
	}
}

// OutOfBounds creates an error for an access outside mapped memory
func OutOfBounds(phase Phase, addr uintptr, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at %#x outside mapped memory", length, addr),
		Value:  addr,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Defect reports a broken internal invariant.
func Defect(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDefect,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
