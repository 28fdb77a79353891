package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"curlsync/internal/collab"
	"curlsync/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*collab.Hub, string) {
	t.Helper()
	hub := collab.NewHub(collab.NewInMemoryRepository(), logger.Discard(), nil)
	h := collab.NewHandler(hub, logger.Discard(), collab.HandlerOptions{})

	r := chi.NewRouter()
	r.Get("/ws", h.ServeWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func runCLI(t *testing.T, url string, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), url, "demo", 2*time.Second, args, strings.NewReader(stdin), &out, logger.Discard())
	return out.String(), err
}

func TestRun_usage_errors(t *testing.T) {
	for _, args := range [][]string{nil, {"print", "x"}, {"title"}, {"season", "1"}} {
		_, err := runCLI(t, "ws://unused", "", args...)
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}
}

func TestRun_print_empty_state(t *testing.T) {
	_, url := newTestServer(t)

	out, err := runCLI(t, url, "", "print")
	require.NoError(t, err)
	assert.Equal(t, "yt-dlp \\\n  -o \".mp4\"\n", out)
}

func TestRun_edits_reach_server(t *testing.T) {
	hub, url := newTestServer(t)

	_, err := runCLI(t, url, "curl 'https://example.com/v.m3u8' -H 'Referer: https://example.com/'", "capture", "-")
	require.NoError(t, err)
	_, err = runCLI(t, url, "", "title", "Show")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := hub.Snapshot()
		return s.Title == "Show" && strings.HasPrefix(s.CapturedRequest, "curl ")
	}, 2*time.Second, 10*time.Millisecond)

	out, err := runCLI(t, url, "", "episode", "01")
	require.NoError(t, err)
	assert.Contains(t, out, `--referer "https://example.com/"`)
	assert.Contains(t, out, `"https://example.com/v.m3u8"`)
	assert.Contains(t, out, `-o "Show01.mp4"`)
}

func TestRun_dial_failure(t *testing.T) {
	_, err := runCLI(t, "ws://127.0.0.1:1/ws", "", "print")
	assert.Error(t, err)
}

func TestLatest_keeps_newest(t *testing.T) {
	l := newLatest()
	for i := 0; i < 100; i++ {
		l.put(fmt.Sprint(i))
	}
	assert.Equal(t, "99", <-l.ch)

	select {
	case v := <-l.ch:
		t.Fatalf("unexpected extra value %q", v)
	default:
	}
}
