package bridge

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/call"
	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/transports/audiosocket"
	"github.com/harunnryd/callbridge/pkg/vad"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. CALLBRIDGE_AUDIOSOCKET_PORT.
const EnvPrefix = "CALLBRIDGE"

const DefaultInstruction = `Você é um assistente de IA amigável fazendo uma ligação telefônica.
Seja educado e objetivo, faça perguntas diretas e ouça com atenção.
Responda sempre em português do Brasil, em no máximo 30 palavras, sem emojis ou símbolos especiais.`

type Config struct {
	AudioSocket  AudioSocketConfig  `mapstructure:"audiosocket"`
	VAD          VADConfig          `mapstructure:"vad"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Vendors      VendorsConfig      `mapstructure:"vendors"`
	Resilience   ResilienceConfig   `mapstructure:"resilience"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Privacy      PrivacyConfig      `mapstructure:"privacy"`
	Shutdown     ShutdownConfig     `mapstructure:"shutdown"`
	Environment  string             `mapstructure:"environment"`
	LogLevel     string             `mapstructure:"log_level"`
	LogFormat    string             `mapstructure:"log_format"`
}

type AudioSocketConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	FrameSize       int    `mapstructure:"frame_size"`
	FrameDurationMS int    `mapstructure:"frame_duration_ms"`
	WriteTimeoutMS  int    `mapstructure:"write_timeout_ms"`
	EventBuffer     int    `mapstructure:"event_buffer"`
}

type VADConfig struct {
	SpeechThreshold   float64 `mapstructure:"speech_threshold"`
	HangoverMS        int     `mapstructure:"hangover_ms"`
	EndpointTimeoutMS int     `mapstructure:"endpoint_timeout_ms"`
	MinSpeechBytes    int     `mapstructure:"min_speech_bytes"`
	HardCapBytes      int     `mapstructure:"hard_cap_bytes"`
}

type ConversationConfig struct {
	Instruction  string `mapstructure:"instruction"`
	GreetingText string `mapstructure:"greeting_text"`
	// GreetingClip is a path to raw s16le 8 kHz PCM or a WAV file.
	GreetingClip     string  `mapstructure:"greeting_clip"`
	ApologyText      string  `mapstructure:"apology_text"`
	MaxHistory       int     `mapstructure:"max_history"`
	MaxContextTokens int     `mapstructure:"max_context_tokens"`
	Temperature      float64 `mapstructure:"temperature"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	LLMTimeoutMS     int     `mapstructure:"llm_timeout_ms"`
	TurnTimeoutMS    int     `mapstructure:"turn_timeout_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type ResilienceConfig struct {
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type MetricsConfig struct {
	// Addr serves /metrics and /health; empty disables the listener.
	Addr string `mapstructure:"addr"`
	// Buffer sizes the async observer queue.
	Buffer int `mapstructure:"buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ShutdownConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audiosocket.host", "0.0.0.0")
	v.SetDefault("audiosocket.port", 9092)
	v.SetDefault("audiosocket.frame_size", 320)
	v.SetDefault("audiosocket.frame_duration_ms", 20)
	v.SetDefault("audiosocket.write_timeout_ms", 2000)
	v.SetDefault("audiosocket.event_buffer", 512)
	v.SetDefault("vad.speech_threshold", 40)
	v.SetDefault("vad.hangover_ms", 700)
	v.SetDefault("vad.endpoint_timeout_ms", 1000)
	v.SetDefault("vad.min_speech_bytes", 8000)
	v.SetDefault("vad.hard_cap_bytes", 20000)
	v.SetDefault("conversation.instruction", DefaultInstruction)
	v.SetDefault("conversation.greeting_text", "")
	v.SetDefault("conversation.greeting_clip", "")
	v.SetDefault("conversation.apology_text", conversation.DefaultApology)
	v.SetDefault("conversation.max_history", 10)
	v.SetDefault("conversation.max_context_tokens", 0)
	v.SetDefault("conversation.temperature", 0.7)
	v.SetDefault("conversation.max_tokens", 150)
	v.SetDefault("conversation.llm_timeout_ms", 20000)
	v.SetDefault("conversation.turn_timeout_ms", 30000)
	v.SetDefault("vendors.stt.provider", "groq")
	v.SetDefault("vendors.tts.provider", "elevenlabs")
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("resilience.breaker_threshold", 3)
	v.SetDefault("resilience.breaker_cooldown_ms", 30000)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("shutdown.drain_timeout_ms", 20000)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads path (optional), applies CALLBRIDGE_* overrides and
// defaults, expands ${VAR} references and validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigInvalid)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfigInvalid)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.AudioSocket.Port >= 0 && c.AudioSocket.Port <= 65535, "audiosocket.port out of range: %d", c.AudioSocket.Port)
	check(c.AudioSocket.FrameSize > 0 && c.AudioSocket.FrameSize%2 == 0, "audiosocket.frame_size must be a positive even number: %d", c.AudioSocket.FrameSize)
	check(c.AudioSocket.FrameDurationMS > 0, "audiosocket.frame_duration_ms must be positive")
	check(c.VAD.SpeechThreshold > 0, "vad.speech_threshold must be positive")
	check(c.VAD.HangoverMS >= 0, "vad.hangover_ms must not be negative")
	check(c.VAD.EndpointTimeoutMS > 0, "vad.endpoint_timeout_ms must be positive")
	check(c.VAD.MinSpeechBytes > 0, "vad.min_speech_bytes must be positive")
	check(c.VAD.HardCapBytes >= c.VAD.MinSpeechBytes, "vad.hard_cap_bytes (%d) must be at least vad.min_speech_bytes (%d)", c.VAD.HardCapBytes, c.VAD.MinSpeechBytes)
	check(strings.TrimSpace(c.Vendors.STT.Provider) != "", "vendors.stt.provider is required")
	check(strings.TrimSpace(c.Vendors.TTS.Provider) != "", "vendors.tts.provider is required")
	check(strings.TrimSpace(c.Vendors.LLM.Provider) != "", "vendors.llm.provider is required")
	check(c.Shutdown.DrainTimeoutMS > 0, "shutdown.drain_timeout_ms must be positive")
	if len(errs) == 0 {
		return nil
	}
	return errorsx.Wrap(errors.Join(errs...), errorsx.ReasonConfigInvalid)
}

func (c Config) TransportConfig() audiosocket.Config {
	return audiosocket.Config{
		Host:            c.AudioSocket.Host,
		Port:            c.AudioSocket.Port,
		FrameSize:       c.AudioSocket.FrameSize,
		FrameDuration:   ms(c.AudioSocket.FrameDurationMS),
		WriteTimeout:    ms(c.AudioSocket.WriteTimeoutMS),
		EventBufferSize: c.AudioSocket.EventBuffer,
	}
}

func (c Config) VADConfig() vad.Config {
	return vad.Config{
		SpeechThreshold: c.VAD.SpeechThreshold,
		Hangover:        ms(c.VAD.HangoverMS),
		EndpointTimeout: ms(c.VAD.EndpointTimeoutMS),
		MinSpeechBytes:  c.VAD.MinSpeechBytes,
		HardCapBytes:    c.VAD.HardCapBytes,
	}
}

func (c Config) ResponderConfig() conversation.Config {
	return conversation.Config{
		Instruction:      c.Conversation.Instruction,
		Apology:          c.Conversation.ApologyText,
		MaxHistory:       c.Conversation.MaxHistory,
		MaxContextTokens: c.Conversation.MaxContextTokens,
		Temperature:      c.Conversation.Temperature,
		MaxTokens:        c.Conversation.MaxTokens,
		Timeout:          ms(c.Conversation.LLMTimeoutMS),
	}
}

// CallConfig builds the per-call settings; the greeting clip is loaded by the
// engine.
func (c Config) CallConfig(clip []byte) call.Config {
	return call.Config{
		VAD:          c.VADConfig(),
		Instruction:  c.Conversation.Instruction,
		GreetingClip: clip,
		GreetingText: c.Conversation.GreetingText,
		ApologyText:  c.Conversation.ApologyText,
		TurnTimeout:  ms(c.Conversation.TurnTimeoutMS),
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
