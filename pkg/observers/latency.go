package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/metrics"
)

// LatencyObserver stitches per-turn stage events together and logs one
// turn_latency line once the reply audio is ready to play.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	captured time.Time
	stt      time.Duration
	llm      time.Duration
	callID   string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ev.Tag(metrics.TagSession)
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if ev.Name == metrics.EventCallEnded {
		delete(o.traces, sessionID)
		return
	}
	if ev.Name == metrics.EventUtterance {
		o.traces[sessionID] = &trace{captured: ev.Time, callID: ev.Tag(metrics.TagCall)}
		return
	}
	t := o.traces[sessionID]
	if t == nil {
		return
	}
	stage := time.Duration(ev.Value * float64(time.Millisecond))
	switch ev.Name {
	case metrics.EventTranscription:
		t.stt = stage
	case metrics.EventResponse:
		t.llm = stage
	case metrics.EventSynthesis:
		o.logTurnLocked(sessionID, t, stage, ev.Time)
		delete(o.traces, sessionID)
	case metrics.EventTurnEmpty, metrics.EventTurnFailed:
		delete(o.traces, sessionID)
	}
}

func (o *LatencyObserver) logTurnLocked(sessionID string, t *trace, tts time.Duration, ready time.Time) {
	o.log.Info("turn_latency",
		"session_id", sessionID,
		"call_id", t.callID,
		"stt_ms", t.stt.Milliseconds(),
		"llm_ms", t.llm.Milliseconds(),
		"tts_ms", tts.Milliseconds(),
		"time_to_audio_ms", ready.Sub(t.captured).Milliseconds(),
	)
}

// Pending reports how many turns are still being traced.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

// Flush logs and forgets turns that never reached audio, which happens when
// the process stops mid-turn.
func (o *LatencyObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for sessionID, t := range o.traces {
		o.log.Warn("turn_latency_incomplete",
			"session_id", sessionID,
			"call_id", t.callID,
			"stt_ms", t.stt.Milliseconds(),
			"llm_ms", t.llm.Milliseconds(),
		)
		delete(o.traces, sessionID)
	}
	return nil
}
