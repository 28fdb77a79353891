package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncode_envelope_shape(t *testing.T) {
	b, err := Encode(EventCurlUpdate, "curl 'https://example.com'")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"event":"curl_update","data":"curl 'https://example.com'"}`
	if string(b) != want {
		t.Errorf("got %s want %s", b, want)
	}
}

func TestEncode_meta_omits_absent_fields(t *testing.T) {
	b, err := Encode(EventMetaUpdate, MetaPatch{Title: String("Show")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"event":"meta_update","data":{"title":"Show"}}`
	if string(b) != want {
		t.Errorf("got %s want %s", b, want)
	}
}

func TestEncodeRaw_keeps_bytes(t *testing.T) {
	b, err := EncodeRaw(EventMetaUpdate, json.RawMessage(`{"title":"A","extra":1}`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"event":"meta_update","data":{"title":"A","extra":1}}`
	if string(b) != want {
		t.Errorf("got %s want %s", b, want)
	}
}

func TestDecode_errors(t *testing.T) {
	if _, err := Decode([]byte("not json {{{")); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
	if _, err := Decode([]byte(`{"data":"x"}`)); !errors.Is(err, ErrMissingEvent) {
		t.Errorf("expected ErrMissingEvent, got %v", err)
	}
	env, err := Decode([]byte(`{"event":"curl_update","data":"x"}`))
	if err != nil || env.Event != EventCurlUpdate || string(env.Data) != `"x"` {
		t.Errorf("unexpected decode: %+v %v", env, err)
	}
}

func TestDecodeCapture(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"abc"`, "abc", true},
		{`""`, "", true},
		{`null`, "", false},
		{`42`, "", false},
		{`{"a":1}`, "", false},
		{``, "", false},
	}
	for _, c := range cases {
		got, ok := DecodeCapture(json.RawMessage(c.raw))
		if got != c.want || ok != c.ok {
			t.Errorf("DecodeCapture(%s) = %q,%v want %q,%v", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestDecodeMeta_partial_and_non_string(t *testing.T) {
	p, ok := DecodeMeta(json.RawMessage(`{"title":"Show"}`))
	if !ok || p.Title == nil || *p.Title != "Show" || p.Episode != nil {
		t.Errorf("title only: %+v ok=%v", p, ok)
	}

	p, ok = DecodeMeta(json.RawMessage(`{"title":5,"episode":"02"}`))
	if !ok || p.Title != nil || p.Episode == nil || *p.Episode != "02" {
		t.Errorf("non-string title should be absent: %+v ok=%v", p, ok)
	}

	p, ok = DecodeMeta(json.RawMessage(`{}`))
	if !ok || !p.Empty() {
		t.Errorf("empty object: %+v ok=%v", p, ok)
	}

	if _, ok = DecodeMeta(json.RawMessage(`"title"`)); ok {
		t.Error("string payload must not decode as meta")
	}
	if _, ok = DecodeMeta(json.RawMessage(`null`)); ok {
		t.Error("null payload must not decode as meta")
	}
}

func TestDecodeSnapshot_defaults_to_empty(t *testing.T) {
	s, ok := DecodeSnapshot(json.RawMessage(`{"title":"T","episode":null}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if s.Title != "T" || s.Episode != "" || s.CapturedRequest != "" {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}
