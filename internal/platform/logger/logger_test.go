package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_fans_out_to_extra_writer(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "json", &buf)
	log.Info("hello", slog.String("k", "v"))
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line in extra writer, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON line: %v", err)
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestRequestLogger_records_status(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", entry["status"])
	}
	if entry["size"] != float64(5) {
		t.Errorf("expected size 5, got %v", entry["size"])
	}
	if entry["path"] != "/api/state" {
		t.Errorf("expected path, got %v", entry["path"])
	}
}

func TestResponseWriter_hijack_unsupported(t *testing.T) {
	w := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := w.Hijack(); err == nil {
		t.Error("expected error when recorder cannot be hijacked")
	}
}
