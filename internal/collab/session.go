package collab

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the outbound queue length used when none is configured.
const DefaultQueueSize = 64

var (
	// ErrSessionClosed is returned when queueing to a session that has closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when a session's outbound queue has no room.
	ErrQueueFull = errors.New("session send queue full")
)

// Session is one connected client as seen by the Hub. It carries only a
// transport identity and an outbound queue; the synchronized fields live in
// the client's own mirror.
type Session struct {
	ID         string
	RemoteAddr string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession returns an open session with a fresh ID. queueSize <= 0 uses
// DefaultQueueSize.
func NewSession(remoteAddr string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

// Outbound yields frames queued for this session, in queue order.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session closed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue queues frame without blocking.
func (s *Session) enqueue(frame []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}
