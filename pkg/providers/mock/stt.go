package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
)

type STTConfig struct {
	Text string `mapstructure:"text"`
	Err  error
	// Gate, when set, holds every call until a value is received or the
	// context ends.
	Gate chan struct{}
}

// Transcriber returns a fixed transcript and records what it was given.
type Transcriber struct {
	cfg      STTConfig
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu    sync.Mutex
	calls [][]byte
}

var _ stt.Transcriber = (*Transcriber)(nil)

func NewTranscriber(cfg STTConfig) *Transcriber {
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		seen := t.maxSeen.Load()
		if n <= seen || t.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	t.mu.Lock()
	t.calls = append(t.calls, append([]byte(nil), wav...))
	t.mu.Unlock()

	if t.cfg.Gate != nil {
		select {
		case <-t.cfg.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if t.cfg.Err != nil {
		return "", t.cfg.Err
	}
	return t.cfg.Text, nil
}

// Calls returns the WAV payloads received so far.
func (t *Transcriber) Calls() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.calls...)
}

// MaxConcurrent is the highest number of overlapping calls observed.
func (t *Transcriber) MaxConcurrent() int { return int(t.maxSeen.Load()) }
