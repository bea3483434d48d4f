package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/morezero/desktop-bridge/pkg/envelope"
)

// Error codes carried in ErrorDetail.
const (
	CodeUnknownModule     = "UNKNOWN_MODULE"
	CodeUnknownCommand    = "UNKNOWN_COMMAND"
	CodeInvalidArgs       = "INVALID_ARGS"
	CodeNotAllowlisted    = "NOT_ALLOWLISTED"
	CodeWindowNotFound    = "WINDOW_NOT_FOUND"
	CodeWindowLabelExists = "WINDOW_LABEL_EXISTS"
	CodeInvalidLabel      = "INVALID_LABEL"
	CodeInvalidEventName  = "INVALID_EVENT_NAME"
	CodeUpdaterError      = "UPDATER_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured payload sent through an error callback.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// Error is a handler failure with a stable code. Handlers return it when the
// frontend should receive a structured rejection instead of a plain string.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// errorPayload encodes err for an error callback: *Error becomes an
// ErrorDetail object, anything else a JSON string.
func errorPayload(err error) (json.RawMessage, string) {
	var rErr *Error
	if errors.As(err, &rErr) {
		detail := ErrorDetail{
			Code:      rErr.Code,
			Message:   rErr.Message,
			Details:   rErr.Details,
			Retryable: rErr.Code == CodeInternalError,
		}
		data, mErr := json.Marshal(detail)
		if mErr == nil {
			return data, rErr.Code
		}
		err = fmt.Errorf("%s (details not encodable: %v)", rErr.Message, mErr)
	}
	data, _ := json.Marshal(err.Error())
	return data, ""
}

// ErrorReply builds the reply that answers error callback id with err.
// Transports use it for envelopes they cannot hand to a router.
func ErrorReply(id uint32, err error) *envelope.Reply {
	payload, _ := errorPayload(err)
	return &envelope.Reply{Callback: id, Payload: payload}
}
