package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTransportAbsent is returned synchronously when no native bridge is
	// attached, for example when the frontend runs outside the native shell.
	ErrTransportAbsent = errors.New("ipc: no native bridge attached")
	// ErrCancelled settles a pending invocation that was cancelled locally.
	ErrCancelled = errors.New("ipc: invocation cancelled")
)

// InvokeError is a rejection delivered through an error callback. A string
// payload becomes Message; a structured payload is kept in Payload and its
// code and message fields are lifted when present.
type InvokeError struct {
	Code      string
	Message   string
	Retryable bool
	Payload   json.RawMessage
}

func (e *InvokeError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return e.Code + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("ipc: command failed: %s", string(e.Payload))
	}
}

// decodeError turns an error callback payload into an *InvokeError.
func decodeError(payload json.RawMessage) *InvokeError {
	e := &InvokeError{Payload: payload}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return e
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			e.Message = s
		}
	case '{':
		var detail struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		}
		if err := json.Unmarshal(trimmed, &detail); err == nil {
			e.Code = detail.Code
			e.Message = detail.Message
			e.Retryable = detail.Retryable
		}
	}
	return e
}

// ErrorCode returns the structured code of err if it is an *InvokeError.
func ErrorCode(err error) string {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
