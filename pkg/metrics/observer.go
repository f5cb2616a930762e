package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Tag returns a tag value or "".
func (ev MetricsEvent) Tag(key string) string {
	if ev.Tags == nil {
		return ""
	}
	return ev.Tags[key]
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
