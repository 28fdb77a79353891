package collab

import "curlsync/internal/protocol"

// SharedState is the single authoritative record every client mirrors.
// The zero value (all fields empty) is the state at process start.
type SharedState struct {
	CapturedRequest string `json:"capturedRequest"`
	Title           string `json:"title"`
	Episode         string `json:"episode"`
}

// Snapshot converts the state to its init_state payload.
func (s SharedState) Snapshot() protocol.Snapshot {
	return protocol.Snapshot{
		CapturedRequest: s.CapturedRequest,
		Title:           s.Title,
		Episode:         s.Episode,
	}
}

// applyMeta sets each field present in p.
func (s *SharedState) applyMeta(p protocol.MetaPatch) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Episode != nil {
		s.Episode = *p.Episode
	}
}
