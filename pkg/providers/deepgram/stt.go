// Package deepgram transcribes utterances with Deepgram's prerecorded API.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/logging"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const DefaultModel = "nova-2"

type Config struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	SmartFormat bool   `mapstructure:"smart_format"`
	Punctuate   bool   `mapstructure:"punctuate"`
}

// prerecorded is the slice of the SDK REST client used here.
type prerecorded interface {
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error)
}

// Transcriber sends each utterance as a WAV stream; the container carries the
// encoding, so no sample rate is declared.
type Transcriber struct {
	cfg    Config
	api    prerecorded
	logger *slog.Logger
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepgram api_key is required")
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return newTranscriber(cfg, api.New(c)), nil
}

func newTranscriber(cfg Config, dg prerecorded) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = "pt-BR"
	}
	return &Transcriber{
		cfg:    cfg,
		api:    dg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram_prerecorded" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: t.cfg.SmartFormat,
		Punctuate:   t.cfg.Punctuate,
	}
	start := time.Now()
	res, err := t.api.FromStream(ctx, bytes.NewReader(wav), opts)
	if err != nil {
		t.logger.Error("deepgram_transcribe_error", slog.String("error", err.Error()))
		return "", fmt.Errorf("deepgram prerecorded: %w", err)
	}
	text := firstTranscript(res)
	t.logger.Debug("deepgram_transcription_done",
		slog.Int("bytes", len(wav)),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		slog.Bool("empty", text == ""),
	)
	return text, nil
}

func firstTranscript(res *restinterfaces.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}
	for _, ch := range res.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		return strings.TrimSpace(ch.Alternatives[0].Transcript)
	}
	return ""
}
