// Package envelope defines the unit that carries a command across the
// frontend/backend boundary and the reply that travels back.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const logPrefix = "envelope:envelope"

// Module names a backend subsystem.
type Module string

const (
	ModuleApp            Module = "App"
	ModuleEvent          Module = "Event"
	ModuleWindow         Module = "Window"
	ModuleUpdater        Module = "Updater"
	ModuleFs             Module = "Fs"
	ModuleHttp           Module = "Http"
	ModuleShell          Module = "Shell"
	ModulePath           Module = "Path"
	ModuleOs             Module = "Os"
	ModuleNotification   Module = "Notification"
	ModuleDialog         Module = "Dialog"
	ModuleClipboard      Module = "Clipboard"
	ModuleGlobalShortcut Module = "GlobalShortcut"
	ModuleProcess        Module = "Process"
)

var (
	// ErrMissingModule is returned when an envelope has no __module.
	ErrMissingModule = errors.New("envelope: missing __module")
	// ErrMissingCommand is returned when a message has no cmd discriminator.
	ErrMissingCommand = errors.New("envelope: message missing cmd")
	// ErrMessageNotObject is returned when a message is not a JSON object.
	ErrMessageNotObject = errors.New("envelope: message must be a JSON object")
	// ErrMissingCallback is returned when either callback ID is zero.
	ErrMissingCallback = errors.New("envelope: callback and error ids are required")
)

// Envelope is a single command invocation. Callback is fired on success and
// Error on failure; exactly one of them is used per envelope.
type Envelope struct {
	Module   Module          `json:"__module"`
	Message  json.RawMessage `json:"message"`
	Callback uint32          `json:"callback"`
	Error    uint32          `json:"error"`
}

// Reply is what the backend sends back: a payload addressed to one callback ID.
type Reply struct {
	Callback uint32          `json:"callback"`
	Payload  json.RawMessage `json:"payload"`
}

// commandHeader is the discriminator every message carries.
type commandHeader struct {
	Cmd string `json:"cmd"`
}

// New builds an envelope from a module and a command message. The message must
// encode to a JSON object with a non-empty cmd field.
func New(module Module, message any, callback, errID uint32) (*Envelope, error) {
	if module == "" {
		return nil, ErrMissingModule
	}
	raw, err := marshalMessage(message)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Module:   module,
		Message:  raw,
		Callback: callback,
		Error:    errID,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func marshalMessage(message any) (json.RawMessage, error) {
	switch m := message.(type) {
	case json.RawMessage:
		return m, nil
	case []byte:
		return json.RawMessage(m), nil
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode message: %w", logPrefix, err)
	}
	return raw, nil
}

// Validate checks the structural invariants of an envelope.
func (e *Envelope) Validate() error {
	if e.Module == "" {
		return ErrMissingModule
	}
	if e.Callback == 0 || e.Error == 0 {
		return ErrMissingCallback
	}
	_, err := e.Command()
	return err
}

// Routable reports whether a router can answer e: it names a module and
// both callbacks. The message itself may still be invalid.
func (e *Envelope) Routable() bool {
	return e.Module != "" && e.Callback != 0 && e.Error != 0
}

// Command returns the cmd discriminator of the message.
func (e *Envelope) Command() (string, error) {
	trimmed := bytes.TrimSpace(e.Message)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", ErrMessageNotObject
	}
	var h commandHeader
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return "", fmt.Errorf("%s - failed to read cmd: %w", logPrefix, err)
	}
	if h.Cmd == "" {
		return "", ErrMissingCommand
	}
	return h.Cmd, nil
}

// DecodeMessage unmarshals the message into v. Fields v does not declare are
// ignored so older routers accept newer messages.
func (e *Envelope) DecodeMessage(v any) error {
	if err := json.Unmarshal(e.Message, v); err != nil {
		return fmt.Errorf("%s - failed to decode message: %w", logPrefix, err)
	}
	return nil
}
