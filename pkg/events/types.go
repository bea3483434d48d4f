// Package events carries named events between windows and the backend: a
// frontend Bus, the backend Hub that routes Event module commands, and
// publishers that mirror emitted events off-process.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Pseudo-events describe local window construction and never cross the bridge.
const (
	WindowCreated = "window-created"
	WindowError   = "window-error"
)

var (
	// ErrInvalidEventName is returned for names outside [A-Za-z0-9-/:_].
	ErrInvalidEventName = errors.New("events: invalid event name")
	// ErrInvalidLabel is returned for window labels outside [A-Za-z0-9-/:_].
	ErrInvalidLabel = errors.New("events: invalid window label")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9\-/:_]+$`)

// ValidateName checks an event name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	return nil
}

// ValidateLabel checks a window label.
func ValidateLabel(label string) error {
	if !namePattern.MatchString(label) {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// IsPseudo reports whether name is handled locally by the frontend.
func IsPseudo(name string) bool {
	return name == WindowCreated || name == WindowError
}

// Event is a delivered event. A nil WindowLabel marks a broadcast. ID is the
// listener the delivery is addressed to.
type Event struct {
	Event       string          `json:"event"`
	WindowLabel *string         `json:"windowLabel"`
	ID          uint64          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
}

// Label returns the target window label, or "" for a broadcast.
func (e Event) Label() string {
	if e.WindowLabel == nil {
		return ""
	}
	return *e.WindowLabel
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events. It runs on the delivery goroutine and must not block.
type Handler func(Event)

// labelPtr maps the empty label to a JSON null.
func labelPtr(label string) *string {
	if label == "" {
		return nil
	}
	return &label
}

// wire messages for the Event module.
type listenMessage struct {
	Cmd         string  `json:"cmd"`
	Event       string  `json:"event"`
	WindowLabel *string `json:"windowLabel"`
	Handler     uint32  `json:"handler"`
}

type unlistenMessage struct {
	Cmd     string `json:"cmd"`
	Event   string `json:"event"`
	EventID uint64 `json:"eventId"`
}

type emitMessage struct {
	Cmd         string          `json:"cmd"`
	Event       string          `json:"event"`
	WindowLabel *string         `json:"windowLabel"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
