package bridge

import (
	stderrors "errors"
	"fmt"
)

// Reason classifies why a script request produced no result. The numeric
// values are part of the wire format.
type Reason uint8

const (
	// ReasonNoDebugActive is reserved; the bridge never produces it.
	ReasonNoDebugActive Reason = iota
	ReasonNoScenario
	ReasonNotHost
	ReasonNoScriptingInReplays
	ReasonLeagueActive
	ReasonScriptParseError
	ReasonInternal
)

var reasonNames = [...]string{
	ReasonNoDebugActive:        "NoDebugActive",
	ReasonNoScenario:           "NoScenario",
	ReasonNotHost:              "NotHost",
	ReasonNoScriptingInReplays: "NoScriptingInReplays",
	ReasonLeagueActive:         "LeagueActive",
	ReasonScriptParseError:     "ScriptParseError",
	ReasonInternal:             "InternalServerError",
}

var reasonMessages = [...]string{
	ReasonNoDebugActive:        "Debug mode has been disabled",
	ReasonNoScenario:           "No scenario running",
	ReasonNotHost:              "Not host",
	ReasonNoScriptingInReplays: "Scripting in replays is disabled",
	ReasonLeagueActive:         "Scripting in league games is not allowed",
	ReasonScriptParseError:     "Parse error",
	ReasonInternal:             "Internal server error",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Message returns the operator-facing description of the reason.
func (r Reason) Message() string {
	if int(r) < len(reasonMessages) {
		return reasonMessages[r]
	}
	return reasonMessages[ReasonInternal]
}

// Precondition reports whether the reason is a host state check that failed
// before any work reached the host thread.
func (r Reason) Precondition() bool {
	switch r {
	case ReasonNoDebugActive, ReasonNoScenario, ReasonNotHost, ReasonNoScriptingInReplays, ReasonLeagueActive:
		return true
	}
	return false
}

// ScriptError is a request-time failure.
type ScriptError struct {
	Reason Reason
	Detail string
	Cause  error
}

func (e *ScriptError) Error() string {
	msg := e.Reason.Message()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += " (caused by: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// Is matches another ScriptError with the same reason.
func (e *ScriptError) Is(target error) bool {
	t, ok := target.(*ScriptError)
	return ok && t.Reason == e.Reason
}

func rejected(r Reason) *ScriptError {
	return &ScriptError{Reason: r}
}

func internal(detail string, cause error) *ScriptError {
	return &ScriptError{Reason: ReasonInternal, Detail: detail, Cause: cause}
}

// ReasonOf returns the reason carried by err. Errors that are not a
// ScriptError are internal.
func ReasonOf(err error) Reason {
	var se *ScriptError
	if stderrors.As(err, &se) {
		return se.Reason
	}
	return ReasonInternal
}
