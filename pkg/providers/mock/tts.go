package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/callbridge/pkg/adapters/tts"
)

type TTSConfig struct {
	// BytesPerChar sizes the generated audio; silence is returned.
	BytesPerChar int `mapstructure:"bytes_per_char"`
	Err          error
	// FailOn makes only this exact text fail.
	FailOn string
}

var ErrSynthesis = errors.New("mock synthesis failure")

type Synthesizer struct {
	cfg TTSConfig

	mu    sync.Mutex
	texts []string
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	if cfg.BytesPerChar <= 0 {
		cfg.BytesPerChar = 160
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	if s.cfg.FailOn != "" && text == s.cfg.FailOn {
		return nil, ErrSynthesis
	}
	return make([]byte, len(text)*s.cfg.BytesPerChar), nil
}

// Texts returns everything that was synthesized, in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}
