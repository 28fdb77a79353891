// Package relay connects server instances through Redis. Every accepted
// update is written to a state hash and published on a pub/sub channel in
// one atomic step, so Redis fixes a single order that every instance,
// including the one that accepted the update, applies in.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"curlsync/internal/protocol"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hash fields holding the shared record.
const (
	fieldCapturedRequest = "capturedRequest"
	fieldTitle           = "title"
	fieldEpisode         = "episode"
)

// ErrInvalidPayload is returned by Publish for an envelope it cannot map to
// state fields.
var ErrInvalidPayload = errors.New("invalid relay payload")

// publishScript updates the state hash and publishes the message
// atomically. KEYS[1] is the hash; ARGV is channel, message, then field and
// value pairs.
var publishScript = redis.NewScript(`
if #ARGV > 2 then
	redis.call('HSET', KEYS[1], unpack(ARGV, 3))
end
return redis.call('PUBLISH', ARGV[1], ARGV[2])
`)

// message is the pub/sub payload: an envelope tagged with the instance and
// session that accepted it.
type message struct {
	Origin  string          `json:"origin"`
	Session string          `json:"session,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Sink receives the shared record and the ordered update stream.
type Sink interface {
	// Restore replaces local state with the record held in Redis.
	Restore(s protocol.Snapshot)
	// ApplyRemote applies one update and delivers it to every local
	// session except exceptSession.
	ApplyRemote(env protocol.Envelope, exceptSession string) error
}

// Relay publishes local updates and delivers the ordered stream.
type Relay struct {
	rdb     *redis.Client
	channel string
	key     string
	origin  string
	log     *slog.Logger
}

// New returns a Relay on channel with a fresh origin ID. The record is kept
// in the hash "<channel>:state".
func New(rdb *redis.Client, channel string, log *slog.Logger) *Relay {
	return &Relay{
		rdb:     rdb,
		channel: channel,
		key:     channel + ":state",
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Origin identifies this instance in published messages.
func (r *Relay) Origin() string {
	return r.origin
}

// Publish records env in the state hash and sends it to every subscribed
// instance, this one included. sessionID is the local session that sent it.
func (r *Relay) Publish(ctx context.Context, sessionID string, env protocol.Envelope) error {
	fields, err := stateFields(env)
	if err != nil {
		return err
	}
	payload, err := r.encode(sessionID, env)
	if err != nil {
		return err
	}

	args := append([]any{r.channel, payload}, fields...)
	if err := publishScript.Run(ctx, r.rdb, []string{r.key}, args...).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Load reads the shared record from Redis. A missing hash is an empty
// record.
func (r *Relay) Load(ctx context.Context) (protocol.Snapshot, error) {
	m, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("load %s: %w", r.key, err)
	}
	return protocol.Snapshot{
		CapturedRequest: m[fieldCapturedRequest],
		Title:           m[fieldTitle],
		Episode:         m[fieldEpisode],
	}, nil
}

// Run subscribes to the channel, restores the sink from the state hash and
// then applies every message in channel order until ctx is cancelled or the
// subscription fails. Messages published between subscribing and loading
// are applied again after the restore; updates only set fields, so the
// result is the same.
func (r *Relay) Run(ctx context.Context, sink Sink) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	ch := pubsub.Channel()

	snap, err := r.Load(ctx)
	if err != nil {
		return err
	}
	sink.Restore(snap)

	r.log.Info("relay subscribed",
		slog.String("channel", r.channel),
		slog.String("origin", r.origin))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, sink)
		}
	}
}

func (r *Relay) encode(sessionID string, env protocol.Envelope) (string, error) {
	b, err := json.Marshal(message{Origin: r.origin, Session: sessionID, Event: env.Event, Data: env.Data})
	if err != nil {
		return "", fmt.Errorf("encode relay message: %w", err)
	}
	return string(b), nil
}

// handle decodes one payload and applies it. A message this instance
// published skips the session that sent it; the others reach every session.
// It reports whether the sink was called.
func (r *Relay) handle(payload string, sink Sink) bool {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.log.Warn("relay message dropped", slog.String("error", err.Error()))
		return false
	}
	if msg.Event == "" {
		r.log.Warn("relay message without event", slog.String("origin", msg.Origin))
		return false
	}

	except := ""
	if msg.Origin == r.origin {
		except = msg.Session
	}
	if err := sink.ApplyRemote(protocol.Envelope{Event: msg.Event, Data: msg.Data}, except); err != nil {
		r.log.Debug("relay update rejected",
			slog.String("origin", msg.Origin),
			slog.String("event", msg.Event),
			slog.String("error", err.Error()))
	}
	return true
}

// stateFields maps env to the hash fields it sets, as alternating names and
// values.
func stateFields(env protocol.Envelope) ([]any, error) {
	switch env.Event {
	case protocol.EventCurlUpdate:
		v, ok := protocol.DecodeCapture(env.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, env.Event)
		}
		return []any{fieldCapturedRequest, v}, nil
	case protocol.EventMetaUpdate:
		p, ok := protocol.DecodeMeta(env.Data)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, env.Event)
		}
		var fields []any
		if p.Title != nil {
			fields = append(fields, fieldTitle, *p.Title)
		}
		if p.Episode != nil {
			fields = append(fields, fieldEpisode, *p.Episode)
		}
		return fields, nil
	}
	return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, env.Event)
}
