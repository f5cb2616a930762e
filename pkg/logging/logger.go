package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger builds the process logger. Format "text" selects the human
// readable handler; anything else emits JSON with source locations.
func InitLogger(level slog.Level, format string) *slog.Logger {
	return NewLogger(os.Stdout, level, format)
}

// NewLogger is InitLogger with an explicit writer.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		opts.AddSource = false
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(
		slog.String("component", component),
	)
}
