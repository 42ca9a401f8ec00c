package cdp

import (
	"errors"
	"fmt"
)

const (
	CodeEmptyEndpointList = "EMPTY_ENDPOINT_LIST"
	CodeDiscoveryFailed   = "DISCOVERY_FAILED"
	CodeNoDebuggerURL     = "NO_DEBUGGER_URL"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeMalformedFrame    = "MALFORMED_FRAME"
	CodeCommandTimedOut   = "COMMAND_TIMED_OUT"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeNotConnected      = "NOT_CONNECTED"
)

// Sentinels matched by errors.Is against a *CodedError carrying the same code.
var (
	ErrEmptyEndpointList = &CodedError{Code: CodeEmptyEndpointList}
	ErrConnectionFailed  = &CodedError{Code: CodeConnectionFailed}
	ErrMalformedFrame    = &CodedError{Code: CodeMalformedFrame}
	ErrCommandTimedOut   = &CodedError{Code: CodeCommandTimedOut}
	ErrSessionClosed     = &CodedError{Code: CodeSessionClosed}
	ErrNotConnected      = &CodedError{Code: CodeNotConnected}
)

// CodedError is a typed error with a stable code.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// Is reports code equality so callers can match on the exported sentinels.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode returns the code of the first CodedError in err's chain, or "".
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// ProtocolError is the error object the browser returns for a failed command.
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}
