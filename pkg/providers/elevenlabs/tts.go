// Package elevenlabs synthesizes replies over the ElevenLabs stream-input
// websocket and returns the whole clip as telephony PCM.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const (
	DefaultBaseURL      = "wss://api.elevenlabs.io"
	DefaultVoiceID      = "pNInz6obpgDQGcFmaJgB"
	DefaultModelID      = "eleven_multilingual_v2"
	DefaultOutputFormat = "ulaw_8000"
)

type Config struct {
	APIKey  string `mapstructure:"api_key"`
	VoiceID string `mapstructure:"voice_id"`
	ModelID string `mapstructure:"model_id"`
	// OutputFormat is ulaw_8000 or pcm_8000; both end up as s16le at 8 kHz.
	OutputFormat    string  `mapstructure:"output_format"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	BaseURL         string  `mapstructure:"base_url"`
	TimeoutMS       int     `mapstructure:"timeout_ms"`
}

// Synthesizer opens one websocket per request.
type Synthesizer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

var errNoAudio = errors.New("elevenlabs: stream ended without audio")

func New(cfg Config) (*Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing elevenlabs api_key")
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	switch cfg.OutputFormat {
	case "":
		cfg.OutputFormat = DefaultOutputFormat
	case "ulaw_8000", "pcm_8000":
	default:
		return nil, fmt.Errorf("unsupported elevenlabs output_format %q", cfg.OutputFormat)
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.5
	}
	if cfg.SimilarityBoost <= 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 20000
	}
	return &Synthesizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			if herr := resilience.CheckResponse(s.Name(), resp); herr != nil {
				return nil, fmt.Errorf("connect elevenlabs: %w", herr)
			}
		}
		return nil, fmt.Errorf("connect elevenlabs: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	start := time.Now()
	for _, msg := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.SimilarityBoost,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("send text: %w", err)
		}
	}

	var encoded []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(encoded) > 0 {
				break
			}
			return nil, fmt.Errorf("read audio: %w", err)
		}
		chunk, final, err := decodeMessage(data)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, chunk...)
		if final {
			break
		}
	}
	if len(encoded) == 0 {
		return nil, errNoAudio
	}

	pcm := encoded
	if s.cfg.OutputFormat == "ulaw_8000" {
		pcm = audio.MulawToLinear(encoded)
	}
	s.logger.Debug("elevenlabs_synthesis_done",
		slog.Int("chars", len(text)),
		slog.Int("bytes", len(pcm)),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return pcm, nil
}

func (s *Synthesizer) buildURL() string {
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	return s.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input?" + q.Encode()
}

type streamMessage struct {
	Audio   *string `json:"audio"`
	IsFinal *bool   `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

func decodeMessage(data []byte) ([]byte, bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("decode stream message: %w", err)
	}
	if msg.Error != "" {
		return nil, false, fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
	}
	final := msg.IsFinal != nil && *msg.IsFinal
	if msg.Audio == nil || *msg.Audio == "" {
		return nil, final, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*msg.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("decode audio chunk: %w", err)
	}
	return raw, final, nil
}
