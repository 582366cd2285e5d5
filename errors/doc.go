// Package errors provides structured error types for the script bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: the composite type and symbol involved, an
// OS-level status code and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSymbols, errors.KindFieldMissing).
//		Type("C4Game").
//		Symbol("IsRunning").
//		Detail("member not declared").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MemberMissing("C4Game", "IsRunning")
//	err := errors.Status(errors.PhaseHook, "commit", 8)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
