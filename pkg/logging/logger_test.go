package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewComponentLogger(NewLogger(&buf, slog.LevelInfo, "json"), "audiosocket")
	log.Info("listening", "addr", "127.0.0.1:9092")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "audiosocket" || rec["msg"] != "listening" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestTextFormatFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelWarn, "text")
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
