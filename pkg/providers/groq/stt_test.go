package groq

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/callbridge/pkg/resilience"
)

func TestTranscribeUploadsWAV(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt ")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("model") != DefaultModel || r.FormValue("language") != "pt" || r.FormValue("response_format") != "json" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "audio.wav" || string(data) != string(wav) {
			t.Errorf("unexpected upload %q (%d bytes)", hdr.Filename, len(data))
		}
		_, _ = w.Write([]byte(`{"text":" quero falar com alguém "}`))
	}))
	defer srv.Close()

	tr := New(Config{APIKey: "key", BaseURL: srv.URL + "/openai/v1"})
	text, err := tr.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "quero falar com alguém" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestTranscribeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "key", BaseURL: srv.URL}).Transcribe(context.Background(), []byte("x"))
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	if _, err := New(Config{}).Transcribe(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}
