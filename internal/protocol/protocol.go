// Package protocol defines the websocket wire format shared by the sync
// server and its clients: a JSON envelope naming an event plus its payload.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in Envelope.Event.
const (
	EventInitState  = "init_state"
	EventCurlUpdate = "curl_update"
	EventMetaUpdate = "meta_update"
)

var (
	// ErrMalformedFrame is returned when a frame is not a JSON envelope.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMissingEvent is returned for an envelope without an event name.
	ErrMissingEvent = errors.New("envelope has no event")
)

// Envelope is one text frame: {"event": "...", "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Snapshot is the init_state payload: the full shared record.
type Snapshot struct {
	CapturedRequest string `json:"capturedRequest"`
	Title           string `json:"title"`
	Episode         string `json:"episode"`
}

// MetaPatch is the meta_update payload. Nil fields are absent on the wire
// and left untouched by receivers.
type MetaPatch struct {
	Title   *string `json:"title,omitempty"`
	Episode *string `json:"episode,omitempty"`
}

// Empty reports whether the patch carries no field at all.
func (p MetaPatch) Empty() bool {
	return p.Title == nil && p.Episode == nil
}

// Encode marshals data and wraps it in an envelope frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return EncodeRaw(event, raw)
}

// EncodeRaw wraps an already encoded payload. Used to relay a client payload
// byte for byte.
func EncodeRaw(event string, raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return b, nil
}

// Decode parses one frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// DecodeCapture extracts a curl_update payload. ok is false unless raw is a
// JSON string.
func DecodeCapture(raw json.RawMessage) (value string, ok bool) {
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	// null unmarshals into a string without error.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false
	}
	return value, true
}

// DecodeMeta extracts a meta_update payload. ok is false unless raw is a JSON
// object. Inside the object, members that are not strings are treated as
// absent rather than rejected.
func DecodeMeta(raw json.RawMessage) (patch MetaPatch, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return MetaPatch{}, false
	}
	if v, isString := DecodeCapture(fields["title"]); isString {
		patch.Title = &v
	}
	if v, isString := DecodeCapture(fields["episode"]); isString {
		patch.Episode = &v
	}
	return patch, true
}

// DecodeSnapshot extracts an init_state payload. Missing or non-string fields
// become empty strings.
func DecodeSnapshot(raw json.RawMessage) (Snapshot, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Snapshot{}, false
	}
	var s Snapshot
	s.CapturedRequest, _ = DecodeCapture(fields["capturedRequest"])
	s.Title, _ = DecodeCapture(fields["title"])
	s.Episode, _ = DecodeCapture(fields["episode"])
	return s, true
}

// String returns a pointer to s, for building a MetaPatch.
func String(s string) *string {
	return &s
}
