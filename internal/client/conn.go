package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"curlsync/internal/protocol"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrClosed is returned when sending on a closed Conn.
var ErrClosed = errors.New("connection closed")

// Conn is a websocket connection to the sync server feeding a Reducer.
type Conn struct {
	ws      *websocket.Conn
	reducer *Reducer
	log     *slog.Logger

	writeMu   sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the server websocket at rawURL, presenting token as the
// connection credential.
func Dial(ctx context.Context, rawURL, token string, log *slog.Logger) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &Conn{
		ws:     ws,
		log:    log,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	c.reducer = NewReducer(c)
	return c, nil
}

// Reducer returns the mirror fed by this connection.
func (c *Conn) Reducer() *Reducer {
	return c.reducer
}

// Run reads server frames into the reducer until the connection ends or ctx
// is cancelled.
func (c *Conn) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			closedLocally := c.isClosed()
			c.Close()
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case closedLocally, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.log.Debug("frame dropped", slog.String("error", err.Error()))
			continue
		}
		if err := c.reducer.Dispatch(env); err != nil {
			c.log.Debug("frame dropped", slog.String("error", err.Error()))
			continue
		}
		if env.Event == protocol.EventInitState {
			c.readyOnce.Do(func() { close(c.ready) })
		}
	}
}

// WaitSnapshot blocks until the initial snapshot has been applied.
func (c *Conn) WaitSnapshot(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendCapture implements Sender.
func (c *Conn) SendCapture(value string) error {
	return c.send(protocol.EventCurlUpdate, value)
}

// SendMeta implements Sender.
func (c *Conn) SendMeta(p protocol.MetaPatch) error {
	return c.send(protocol.EventMetaUpdate, p)
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) send(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}
