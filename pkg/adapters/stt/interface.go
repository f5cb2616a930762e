// Package stt defines the speech-to-text contract the call layer depends on.
package stt

import "context"

// Transcriber turns one captured utterance into text. wav is a complete RIFF
// file (8 kHz, 16-bit, mono). An empty string with a nil error means nothing
// intelligible was said.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	Language string `mapstructure:"language"`
	Model    string `mapstructure:"model"`
	// Prompt biases recognition towards expected vocabulary, when the vendor
	// supports it.
	Prompt string `mapstructure:"prompt"`
}
