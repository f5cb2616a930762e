// Package tts defines the speech synthesis contract the call layer depends on.
package tts

import "context"

// Synthesizer renders text as 8 kHz signed 16-bit mono PCM. An error or an
// empty result means there is nothing to play.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	Voice      string `mapstructure:"voice"`
	Model      string `mapstructure:"model"`
	SampleRate int    `mapstructure:"sample_rate"`
}
