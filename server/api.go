package server

import (
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/wippyai/scriptbridge/bridge"
)

// Routes.
const (
	ScriptPath         = "/v1/action/script"
	HistoryPath        = "/v1/history"
	RunScriptProcedure = "/lctwitch.v1.ScriptService/RunScript"
)

// reasonHeader carries the numeric reason on Connect errors.
const reasonHeader = "Script-Reason"

// ScriptRequest is the body of a script request.
type ScriptRequest struct {
	Script string `json:"script"`
}

// ScriptReply is the body of a successful script request.
type ScriptReply struct {
	Result string `json:"result"`
}

// ErrorReply is the body of a failed request.
type ErrorReply struct {
	Code    bridge.Reason `json:"code"`
	Message string        `json:"message"`
}

// HistoryEntry is one item of GET /v1/history.
type HistoryEntry struct {
	ID         int64         `json:"id"`
	Time       time.Time     `json:"time"`
	Script     string        `json:"script"`
	Result     string        `json:"result,omitempty"`
	Code       bridge.Reason `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	DurationMS float64       `json:"duration_ms"`
}

// StatusFor maps a reason to its HTTP status.
func StatusFor(r bridge.Reason) int {
	switch r {
	case bridge.ReasonNoDebugActive, bridge.ReasonNoScenario, bridge.ReasonNotHost, bridge.ReasonNoScriptingInReplays:
		return http.StatusForbidden
	case bridge.ReasonScriptParseError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CodeFor maps a reason to its Connect code.
func CodeFor(r bridge.Reason) connect.Code {
	switch {
	case r.Precondition():
		return connect.CodePermissionDenied
	case r == bridge.ReasonScriptParseError:
		return connect.CodeInvalidArgument
	default:
		return connect.CodeInternal
	}
}

// errorReply renders err for the wire. Errors that are not script errors
// carry no detail.
func errorReply(err error) ErrorReply {
	reason := bridge.ReasonOf(err)
	msg := reason.Message()
	var se *bridge.ScriptError
	if errors.As(err, &se) {
		msg = se.Error()
	}
	return ErrorReply{Code: reason, Message: msg}
}
