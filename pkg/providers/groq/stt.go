// Package groq transcribes utterances with Groq's Whisper endpoint.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const (
	DefaultBaseURL  = "https://api.groq.com/openai/v1"
	DefaultModel    = "whisper-large-v3"
	DefaultLanguage = "pt"
)

type Config struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Language  string `mapstructure:"language"`
	Prompt    string `mapstructure:"prompt"`
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// Transcriber posts one WAV per call as a multipart upload.
type Transcriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := 30 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(slog.Default(), "groq_stt"),
	}
}

func (t *Transcriber) Name() string { return "groq_whisper" }

func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("empty audio")
	}
	body, contentType, err := t.buildForm(wav)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := resilience.CheckResponse(t.Name(), resp); err != nil {
		return "", fmt.Errorf("transcriptions: %w", err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	t.logger.Debug("groq_transcription_done",
		"bytes", len(wav),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(out.Text), nil
}

func (t *Transcriber) buildForm(wav []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"model", t.cfg.Model},
		{"language", t.cfg.Language},
		{"response_format", "json"},
	}
	if t.cfg.Prompt != "" {
		fields = append(fields, [2]string{"prompt", t.cfg.Prompt})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
