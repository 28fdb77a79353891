// Package client keeps a local mirror of the shared fields, merges updates
// from the sync server into it, and sends local edits back.
package client

import (
	"errors"
	"fmt"
	"sync"

	"curlsync/internal/protocol"
	"curlsync/internal/ytdlp"
)

// Field names a metadata field editable with OnLocalMetaEdit.
type Field string

const (
	FieldTitle   Field = "title"
	FieldEpisode Field = "episode"
)

// ErrUnknownField is returned by OnLocalMetaEdit for a field other than
// FieldTitle or FieldEpisode.
var ErrUnknownField = errors.New("unknown field")

// State is the local copy of the shared record.
type State struct {
	CapturedRequest string
	Title           string
	Episode         string
}

// Sender delivers local edits to the server.
type Sender interface {
	SendCapture(value string) error
	SendMeta(p protocol.MetaPatch) error
}

// ChangeFunc observes the mirror after every change together with the
// recomputed command.
type ChangeFunc func(st State, command string)

// Reducer is the client-side mirror. Local edits are applied before they
// are sent; server updates never echo them back.
type Reducer struct {
	mu       sync.Mutex
	state    State
	command  string
	sender   Sender
	onChange ChangeFunc
}

// NewReducer returns an empty mirror that sends local edits through sender.
func NewReducer(sender Sender) *Reducer {
	r := &Reducer{sender: sender}
	r.command = ytdlp.Transform("", "", "")
	return r
}

// OnChange installs fn, replacing any previous observer.
func (r *Reducer) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// State returns the current mirror.
func (r *Reducer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Command returns the yt-dlp command for the current mirror.
func (r *Reducer) Command() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.command
}

// ApplySnapshot replaces all three fields. Called once per connection.
func (r *Reducer) ApplySnapshot(s protocol.Snapshot) {
	r.update(func(st *State) {
		st.CapturedRequest = s.CapturedRequest
		st.Title = s.Title
		st.Episode = s.Episode
	})
}

// ApplyCaptureBroadcast replaces capturedRequest with a value another client
// sent.
func (r *Reducer) ApplyCaptureBroadcast(value string) {
	r.update(func(st *State) { st.CapturedRequest = value })
}

// ApplyMetaBroadcast replaces each field present in p.
func (r *Reducer) ApplyMetaBroadcast(p protocol.MetaPatch) {
	if p.Empty() {
		return
	}
	r.update(func(st *State) {
		if p.Title != nil {
			st.Title = *p.Title
		}
		if p.Episode != nil {
			st.Episode = *p.Episode
		}
	})
}

// OnLocalCaptureEdit applies value locally, then sends it.
func (r *Reducer) OnLocalCaptureEdit(value string) error {
	r.update(func(st *State) { st.CapturedRequest = value })
	return r.sender.SendCapture(value)
}

// OnLocalMetaEdit applies one field locally, then sends both title and
// episode.
func (r *Reducer) OnLocalMetaEdit(field Field, value string) error {
	if field != FieldTitle && field != FieldEpisode {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	var patch protocol.MetaPatch
	r.update(func(st *State) {
		if field == FieldTitle {
			st.Title = value
		} else {
			st.Episode = value
		}
		patch = protocol.MetaPatch{
			Title:   protocol.String(st.Title),
			Episode: protocol.String(st.Episode),
		}
	})
	return r.sender.SendMeta(patch)
}

// Dispatch routes one server envelope to the matching Apply method. Payloads
// of the wrong shape are ignored.
func (r *Reducer) Dispatch(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventInitState:
		if s, ok := protocol.DecodeSnapshot(env.Data); ok {
			r.ApplySnapshot(s)
		}
	case protocol.EventCurlUpdate:
		if v, ok := protocol.DecodeCapture(env.Data); ok {
			r.ApplyCaptureBroadcast(v)
		}
	case protocol.EventMetaUpdate:
		if p, ok := protocol.DecodeMeta(env.Data); ok {
			r.ApplyMetaBroadcast(p)
		}
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}

// update mutates the mirror, recomputes the command and notifies the
// observer outside the lock.
func (r *Reducer) update(mutate func(st *State)) {
	r.mu.Lock()
	mutate(&r.state)
	r.command = ytdlp.Transform(r.state.CapturedRequest, r.state.Title, r.state.Episode)
	st, cmd, fn := r.state, r.command, r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(st, cmd)
	}
}
