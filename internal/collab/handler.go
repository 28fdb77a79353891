package collab

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"curlsync/internal/ytdlp"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageBytes caps one inbound frame.
	DefaultMaxMessageBytes = 1 << 20
)

// HandlerOptions configures the websocket endpoint.
type HandlerOptions struct {
	// AuthToken, when set, must match the token a client presents. Empty
	// accepts any token, including none.
	AuthToken string
	// AllowedOrigins lists accepted Origin headers; "*" accepts all.
	AllowedOrigins  []string
	SendQueueSize   int
	MaxMessageBytes int64
}

// Handler exposes the hub over HTTP: the websocket endpoint plus read-only
// views of the shared record.
type Handler struct {
	hub      *Hub
	log      *slog.Logger
	opts     HandlerOptions
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler serving hub.
func NewHandler(hub *Hub, log *slog.Logger, opts HandlerOptions) *Handler {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	h := &Handler{hub: hub, log: log, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeWS handles GET /ws. The token is read from ?token= or an
// Authorization bearer header. A rejected handshake registers no session.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if h.opts.AuthToken != "" && token != h.opts.AuthToken {
		h.log.Info("websocket auth rejected", slog.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := NewSession(r.RemoteAddr, h.opts.SendQueueSize)
	go h.writePump(conn, s)

	if err := h.hub.OnConnect(s); err != nil {
		h.log.Error("register session failed", slog.String("error", err.Error()))
		s.Close()
		return
	}
	h.readPump(conn, s)
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Snapshot()); err != nil {
		h.log.Error("encode state failed", slog.String("error", err.Error()))
	}
}

// GetCommand handles GET /api/command: the yt-dlp command derived from the
// current record.
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	st := h.hub.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ytdlp.Transform(st.CapturedRequest, st.Title, st.Episode) + "\n"))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// readPump feeds inbound frames to the hub until the connection fails, then
// unregisters the session.
func (h *Handler) readPump(conn *websocket.Conn, s *Session) {
	defer func() {
		h.hub.OnDisconnect(s)
		conn.Close()
	}()

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("websocket read failed",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := h.hub.HandleMessage(s, frame); err != nil {
			h.log.Debug("message dropped",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()))
		}
	}
}

// writePump drains the session queue onto the connection and keeps it alive
// with pings. It closes the connection when the session closes or a write
// fails.
func (h *Handler) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		conn.Close()
	}()

	for {
		select {
		case frame := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("websocket write failed",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 || slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
