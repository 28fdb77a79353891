package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"curlsync/internal/platform/metrics"
	"curlsync/internal/protocol"
)

// publishTimeout bounds a single relay publish.
const publishTimeout = 2 * time.Second

var (
	// ErrUnknownEvent is returned by HandleMessage for an event it does not handle.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidPayload is returned when a payload has the wrong JSON shape.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotConnected is returned when a session sends before OnConnect.
	ErrNotConnected = errors.New("session not connected")
)

// Publisher hands accepted updates to the relay that orders them across
// server instances. sessionID names the originating session so the update
// can be delivered back to every session but that one.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, env protocol.Envelope) error
}

// Hub owns the shared record and the set of connected sessions. Every
// handler runs under one mutex, so updates are applied and fanned out in a
// single total order. Fan-out only queues frames; it never waits on a
// client's network.
type Hub struct {
	mu        sync.Mutex
	repo      Repository
	sessions  map[string]*Session
	log       *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
}

// NewHub returns a Hub over repo. Metrics may be nil.
func NewHub(repo Repository, log *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		repo:     repo,
		sessions: make(map[string]*Session),
		log:      log,
		metrics:  m,
	}
}

// SetPublisher installs the relay. From then on client updates are applied
// only when the relay delivers them back through ApplyRemote, so every
// instance applies them in the relay's order. Call before serving.
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publisher = p
}

// OnConnect registers s and queues exactly one init_state snapshot for it.
// No update can land between the snapshot and the registration.
func (h *Hub) OnConnect(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	frame, err := protocol.Encode(protocol.EventInitState, h.repo.Snapshot().Snapshot())
	if err != nil {
		return err
	}
	if err := s.enqueue(frame); err != nil {
		return fmt.Errorf("queue snapshot for %s: %w", s.ID, err)
	}

	h.sessions[s.ID] = s
	h.metrics.AddMessagesBroadcast(protocol.EventInitState, 1)
	h.metrics.SetActiveSessions(len(h.sessions))
	h.log.Info("session connected",
		slog.String("session_id", s.ID),
		slog.String("remote", s.RemoteAddr),
		slog.Int("sessions", len(h.sessions)))
	return nil
}

// OnDisconnect removes s from the broadcast set. The shared record is not
// touched. Safe to call for a session already evicted.
func (h *Hub) OnDisconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.Close()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	h.metrics.SetActiveSessions(len(h.sessions))
	h.log.Info("session disconnected",
		slog.String("session_id", s.ID),
		slog.Int("sessions", len(h.sessions)))
}

// OnCaptureUpdate replaces capturedRequest with value and relays it to every
// session except from.
func (h *Hub) OnCaptureUpdate(from *Session, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return h.accept(from, protocol.Envelope{Event: protocol.EventCurlUpdate, Data: raw})
}

// OnMetaUpdate applies the string fields of a meta_update payload and relays
// the payload, as received, to every session except from. Non-string fields
// are ignored. A payload that is not a JSON object is rejected with
// ErrInvalidPayload and not relayed.
func (h *Hub) OnMetaUpdate(from *Session, raw json.RawMessage) error {
	return h.accept(from, protocol.Envelope{Event: protocol.EventMetaUpdate, Data: raw})
}

// HandleMessage decodes one inbound frame from s and dispatches it. Errors
// describe a frame that was dropped; they never affect other sessions.
func (h *Hub) HandleMessage(s *Session, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	return h.accept(s, env)
}

// ApplyRemote applies an update delivered by the relay and queues it to
// every local session except the one with ID exceptSession (empty for
// none). It is not published again.
func (h *Hub) ApplyRemote(env protocol.Envelope, exceptSession string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.applyLocked(env); err != nil {
		return err
	}
	h.metrics.IncRelayMessagesApplied()
	return h.broadcastLocked(exceptSession, env)
}

// Restore replaces the shared record with s and queues a fresh init_state
// to every session, so clients that joined before the relay caught up
// converge.
func (h *Hub) Restore(s protocol.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.repo.Replace(SharedState{
		CapturedRequest: s.CapturedRequest,
		Title:           s.Title,
		Episode:         s.Episode,
	})
	env, err := snapshotEnvelope(s)
	if err != nil {
		h.log.Error("encode snapshot failed", slog.String("error", err.Error()))
		return
	}
	_ = h.broadcastLocked("", env)
	h.log.Info("shared state restored from relay")
}

// Snapshot returns a copy of the shared record.
func (h *Hub) Snapshot() SharedState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.repo.Snapshot()
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close closes and unregisters every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.sessions {
		s.Close()
		delete(h.sessions, id)
	}
	h.metrics.SetActiveSessions(0)
}

// accept validates a client update, then either applies and fans it out
// directly or, with a relay installed, publishes it and leaves applying to
// ApplyRemote.
func (h *Hub) accept(from *Session, env protocol.Envelope) error {
	h.metrics.IncMessagesReceived(eventLabel(env.Event))

	h.mu.Lock()
	if _, ok := h.sessions[from.ID]; !ok {
		h.mu.Unlock()
		return ErrNotConnected
	}
	pub := h.publisher
	if pub == nil {
		err := h.applyAndBroadcastLocked(from, env)
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	if err := validate(env); err != nil {
		return err
	}
	if err := h.publish(pub, from.ID, env); err == nil {
		return nil
	}

	// Relay unavailable: keep serving local sessions.
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.applyAndBroadcastLocked(from, env)
}

func (h *Hub) applyAndBroadcastLocked(from *Session, env protocol.Envelope) error {
	if err := h.applyLocked(env); err != nil {
		return err
	}
	h.log.Debug("update accepted",
		slog.String("event", env.Event),
		slog.String("session_id", from.ID),
		slog.Int("bytes", len(env.Data)))
	return h.broadcastLocked(from.ID, env)
}

// validate checks that env is an event the hub applies, with a payload of
// the right shape.
func validate(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventCurlUpdate:
		if _, ok := protocol.DecodeCapture(env.Data); !ok {
			return fmt.Errorf("%w: %s wants a string", ErrInvalidPayload, env.Event)
		}
	case protocol.EventMetaUpdate:
		if _, ok := protocol.DecodeMeta(env.Data); !ok {
			return fmt.Errorf("%w: %s wants an object", ErrInvalidPayload, env.Event)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return nil
}

// eventLabel keeps the metrics label set bounded: client-chosen event names
// are folded into "unknown".
func eventLabel(event string) string {
	switch event {
	case protocol.EventCurlUpdate, protocol.EventMetaUpdate:
		return event
	}
	return "unknown"
}

// applyLocked mutates the shared record for env. Caller must hold h.mu.
func (h *Hub) applyLocked(env protocol.Envelope) error {
	if err := validate(env); err != nil {
		return err
	}
	switch env.Event {
	case protocol.EventCurlUpdate:
		value, _ := protocol.DecodeCapture(env.Data)
		h.repo.SetCapturedRequest(value)
	case protocol.EventMetaUpdate:
		patch, _ := protocol.DecodeMeta(env.Data)
		h.repo.ApplyMeta(patch)
	}
	return nil
}

// broadcastLocked queues env to every session except the one with ID except
// (empty for none). A session whose queue is full is evicted; the remaining
// sessions are still served. Caller must hold h.mu.
func (h *Hub) broadcastLocked(except string, env protocol.Envelope) error {
	frame, err := protocol.EncodeRaw(env.Event, env.Data)
	if err != nil {
		return err
	}

	queued := 0
	for id, s := range h.sessions {
		if id == except {
			continue
		}
		switch err := s.enqueue(frame); {
		case err == nil:
			queued++
		case errors.Is(err, ErrQueueFull):
			h.log.Warn("evicting slow session",
				slog.String("session_id", id),
				slog.String("event", env.Event))
			h.metrics.IncSessionsEvicted()
			s.Close()
			delete(h.sessions, id)
		default:
			delete(h.sessions, id)
		}
	}
	h.metrics.AddMessagesBroadcast(env.Event, queued)
	h.metrics.SetActiveSessions(len(h.sessions))
	return nil
}

func (h *Hub) publish(pub Publisher, sessionID string, env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := pub.Publish(ctx, sessionID, env); err != nil {
		h.metrics.IncRelayPublishErrors()
		h.log.Warn("relay publish failed, applying locally",
			slog.String("event", env.Event),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func snapshotEnvelope(s protocol.Snapshot) (protocol.Envelope, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Envelope{Event: protocol.EventInitState, Data: raw}, nil
}
