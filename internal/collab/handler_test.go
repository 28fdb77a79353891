package collab

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"curlsync/internal/platform/logger"
	"curlsync/internal/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/command", h.GetCommand)
	})
	return r
}

func newTestServer(t *testing.T, opts HandlerOptions) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(NewInMemoryRepository(), logger.Discard(), nil)
	ts := httptest.NewServer(newTestRouter(NewHandler(hub, logger.Discard(), opts)))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func wsURL(httpURL, query string) string {
	u := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "token=demo"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_ws_three_client_scenario(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{})

	a := dial(t, ts)
	snap, ok := protocol.DecodeSnapshot(readEnvelope(t, a).Data)
	require.True(t, ok)
	assert.Equal(t, protocol.Snapshot{}, snap)

	b := dial(t, ts)
	readEnvelope(t, b)
	waitFor(t, func() bool { return hub.SessionCount() == 2 })

	send(t, a, protocol.EventMetaUpdate, protocol.MetaPatch{Title: protocol.String("Show"), Episode: protocol.String("")})

	env := readEnvelope(t, b)
	assert.Equal(t, protocol.EventMetaUpdate, env.Event)
	patch, ok := protocol.DecodeMeta(env.Data)
	require.True(t, ok)
	assert.Equal(t, "Show", *patch.Title)
	expectSilence(t, a)

	c := dial(t, ts)
	env = readEnvelope(t, c)
	assert.Equal(t, protocol.EventInitState, env.Event)
	snap, _ = protocol.DecodeSnapshot(env.Data)
	assert.Equal(t, "Show", snap.Title)
}

func TestHandler_ws_curl_update_relayed(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{})
	a, b := dial(t, ts), dial(t, ts)
	readEnvelope(t, a)
	readEnvelope(t, b)
	waitFor(t, func() bool { return hub.SessionCount() == 2 })

	send(t, b, protocol.EventCurlUpdate, "curl 'https://example.com/video'")

	env := readEnvelope(t, a)
	v, ok := protocol.DecodeCapture(env.Data)
	require.True(t, ok)
	assert.Equal(t, "curl 'https://example.com/video'", v)
	expectSilence(t, b)
}

func TestHandler_ws_invalid_json_does_not_break_session(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{})
	a, b := dial(t, ts), dial(t, ts)
	readEnvelope(t, a)
	readEnvelope(t, b)
	waitFor(t, func() bool { return hub.SessionCount() == 2 })

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not valid json {{{")))
	send(t, a, protocol.EventCurlUpdate, "still working")

	v, _ := protocol.DecodeCapture(readEnvelope(t, b).Data)
	assert.Equal(t, "still working", v)
}

func TestHandler_ws_disconnect_unregisters(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{})
	a := dial(t, ts)
	readEnvelope(t, a)
	waitFor(t, func() bool { return hub.SessionCount() == 1 })

	a.Close()
	waitFor(t, func() bool { return hub.SessionCount() == 0 })

	b := dial(t, ts)
	assert.Equal(t, protocol.EventInitState, readEnvelope(t, b).Event)
}

func TestHandler_ws_auth_token(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{AuthToken: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "token=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, hub.SessionCount())

	hdr := http.Header{"Authorization": []string{"Bearer s3cret"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), hdr)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, protocol.EventInitState, readEnvelope(t, conn).Event)
}

func TestHandler_ws_origin_allowlist(t *testing.T) {
	_, ts := newTestServer(t, HandlerOptions{AllowedOrigins: []string{"https://ok.example"}})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, ""), http.Header{"Origin": []string{"https://ok.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestHandler_GetState_and_GetCommand(t *testing.T) {
	hub, ts := newTestServer(t, HandlerOptions{})
	a := dial(t, ts)
	readEnvelope(t, a)
	waitFor(t, func() bool { return hub.SessionCount() == 1 })

	send(t, a, protocol.EventCurlUpdate, "curl 'https://example.com/video' -H 'Referer: https://example.com/'")
	send(t, a, protocol.EventMetaUpdate, protocol.MetaPatch{Title: protocol.String("a/b:c"), Episode: protocol.String("1?2")})
	waitFor(t, func() bool { return hub.Snapshot().Episode == "1?2" })

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var st SharedState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "a/b:c", st.Title)

	resp2, err := http.Get(ts.URL + "/api/command")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Contains(t, string(body), `--referer "https://example.com/"`)
	assert.Contains(t, string(body), `-o "a_b_c1_2.mp4"`)
}

func TestHandler_Healthz(t *testing.T) {
	h := NewHandler(NewHub(NewInMemoryRepository(), logger.Discard(), nil), logger.Discard(), HandlerOptions{})
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSPAHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	h := SPAHandler(dir)

	cases := map[string]string{
		"/":              "<html>app</html>",
		"/app.js":        "console.log(1)",
		"/room/whatever": "<html>app</html>",
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
}
