package observers

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/harunnryd/callbridge/pkg/metrics"
)

// warnEvents are written at warn level so they show up without debug logs.
var warnEvents = map[string]bool{
	metrics.EventTurnFailed:    true,
	metrics.EventRateLimit:     true,
	metrics.EventBreakerDenied: true,
	metrics.EventBreakerState:  true,
}

// LoggerObserver writes call events to slog: failures at warn, the rest at
// debug. Tags are emitted in sorted order so lines diff cleanly.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With(slog.String("component", "events"))}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := slog.LevelDebug
	if warnEvents[ev.Name] {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 2+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs, slog.Float64("value", ev.Value))
	if !ev.Time.IsZero() {
		attrs = append(attrs, slog.Time("at", ev.Time))
	}
	for _, k := range sortedKeys(ev.Tags) {
		attrs = append(attrs, slog.String(k, ev.Tags[k]))
	}
	for _, k := range sortedKeys(ev.Fields) {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MultiObserver fans one event out to several observers. Nil entries are
// skipped.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	kept := make([]metrics.Observer, 0, len(list))
	for _, obs := range list {
		if obs != nil {
			kept = append(kept, obs)
		}
	}
	return &MultiObserver{list: kept}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}

// Flush forwards to every observer that buffers.
func (m *MultiObserver) Flush() error {
	var errs []error
	for _, obs := range m.list {
		if f, ok := obs.(metrics.Flusher); ok {
			errs = append(errs, f.Flush())
		}
	}
	return errors.Join(errs...)
}
