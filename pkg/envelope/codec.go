package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

const codecLogPrefix = "envelope:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Encode serializes an envelope for the bridge.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode envelope: %w", codecLogPrefix, err)
	}
	return data, nil
}

// Decode parses and validates an envelope received from the bridge.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s - failed to decode envelope: %w", codecLogPrefix, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// DecodeLoose parses an envelope without validating it, so a transport can
// still answer one that names its callbacks but is otherwise malformed.
func DecodeLoose(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s - failed to decode envelope: %w", codecLogPrefix, err)
	}
	return &e, nil
}

// EncodeReply serializes a reply.
func EncodeReply(r *Reply) ([]byte, error) {
	if len(r.Payload) == 0 {
		r.Payload = json.RawMessage("null")
	}
	return json.Marshal(r)
}

// DecodeReply parses a reply received from the bridge.
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s - failed to decode reply: %w", codecLogPrefix, err)
	}
	if len(r.Payload) == 0 {
		r.Payload = json.RawMessage("null")
	}
	return &r, nil
}

// Bytes is binary content carried as a JSON array of byte values, the form the
// bridge's value model can represent.
type Bytes []byte

// MarshalJSON encodes b as an array of numbers.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON accepts an array of byte values. A base64 string is also
// accepted for senders that use the default binary encoding.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("%s - invalid base64 bytes: %w", codecLogPrefix, err)
		}
		*b = decoded
		return nil
	}
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("%s - bytes must be an array of numbers: %w", codecLogPrefix, err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("%s - byte value %d out of range at index %d", codecLogPrefix, v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
