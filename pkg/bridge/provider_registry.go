package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/providers/deepgram"
	"github.com/harunnryd/callbridge/pkg/providers/elevenlabs"
	"github.com/harunnryd/callbridge/pkg/providers/groq"
	"github.com/harunnryd/callbridge/pkg/providers/mock"
	"github.com/harunnryd/callbridge/pkg/providers/openai"
)

type STTFactory func(cfg VendorConfig) (stt.Transcriber, error)
type TTSFactory func(cfg VendorConfig) (tts.Synthesizer, error)
type LLMFactory func(cfg VendorConfig) (llm.LLMAdapter, error)

// ProviderRegistry maps vendors.*.provider names to constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg VendorConfig) (stt.Transcriber, error) {
	fn := r.stt[providerKey(cfg.Provider)]
	if fn == nil {
		return nil, unknownProvider("stt", cfg.Provider, keys(r.stt))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(cfg VendorConfig) (tts.Synthesizer, error) {
	fn := r.tts[providerKey(cfg.Provider)]
	if fn == nil {
		return nil, unknownProvider("tts", cfg.Provider, keys(r.tts))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(cfg VendorConfig) (llm.LLMAdapter, error) {
	fn := r.llm[providerKey(cfg.Provider)]
	if fn == nil {
		return nil, unknownProvider("llm", cfg.Provider, keys(r.llm))
	}
	return fn(cfg)
}

func unknownProvider(kind, name string, known []string) error {
	return errorsx.Wrap(fmt.Errorf("%s provider not registered: %q (known: %s)", kind, name, strings.Join(known, ", ")), errorsx.ReasonConfigInvalid)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// decodeVendor validates settings against schema and decodes them into out.
func decodeVendor(kind string, cfg VendorConfig, schema configutil.Schema, out any) error {
	path := "vendors." + kind + ".settings"
	if err := configutil.ValidateSettings(path, cfg.Settings, schema); err != nil {
		return err
	}
	return configutil.DecodeSettings(cfg.Settings, out)
}

// DefaultProviders registers the built-in vendors. API keys may be left out
// of the settings and come from the vendor's usual environment variable.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("groq", func(cfg VendorConfig) (stt.Transcriber, error) {
		var c groq.Config
		schema := configutil.Schema{Optional: []string{"api_key", "model", "language", "prompt", "base_url", "timeout_ms"}}
		if err := decodeVendor("stt", cfg, schema, &c); err != nil {
			return nil, err
		}
		c.APIKey = configutil.StringOrEnv(c.APIKey, "GROQ_API_KEY")
		if err := configutil.RequireString(c.APIKey, "vendors.stt.settings.api_key (or GROQ_API_KEY)"); err != nil {
			return nil, err
		}
		return groq.New(c), nil
	})
	r.RegisterSTT("deepgram", func(cfg VendorConfig) (stt.Transcriber, error) {
		var c deepgram.Config
		schema := configutil.Schema{Optional: []string{"api_key", "model", "language", "smart_format", "punctuate"}}
		if err := decodeVendor("stt", cfg, schema, &c); err != nil {
			return nil, err
		}
		c.APIKey = configutil.StringOrEnv(c.APIKey, "DEEPGRAM_API_KEY")
		if err := configutil.RequireString(c.APIKey, "vendors.stt.settings.api_key (or DEEPGRAM_API_KEY)"); err != nil {
			return nil, err
		}
		t, err := deepgram.New(c)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
		return t, nil
	})
	r.RegisterSTT("mock", func(cfg VendorConfig) (stt.Transcriber, error) {
		var c mock.STTConfig
		if err := decodeVendor("stt", cfg, configutil.Schema{Optional: []string{"text"}}, &c); err != nil {
			return nil, err
		}
		return mock.NewTranscriber(c), nil
	})

	r.RegisterTTS("elevenlabs", func(cfg VendorConfig) (tts.Synthesizer, error) {
		var c elevenlabs.Config
		schema := configutil.Schema{Optional: []string{"api_key", "voice_id", "model_id", "output_format", "stability", "similarity_boost", "base_url", "timeout_ms"}}
		if err := decodeVendor("tts", cfg, schema, &c); err != nil {
			return nil, err
		}
		c.APIKey = configutil.StringOrEnv(c.APIKey, "ELEVENLABS_API_KEY")
		c.VoiceID = configutil.StringOrEnv(c.VoiceID, "ELEVENLABS_VOICE_ID")
		c.ModelID = configutil.StringOrEnv(c.ModelID, "ELEVENLABS_MODEL")
		if err := configutil.RequireString(c.APIKey, "vendors.tts.settings.api_key (or ELEVENLABS_API_KEY)"); err != nil {
			return nil, err
		}
		s, err := elevenlabs.New(c)
		if err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
		return s, nil
	})
	r.RegisterTTS("mock", func(cfg VendorConfig) (tts.Synthesizer, error) {
		var c mock.TTSConfig
		if err := decodeVendor("tts", cfg, configutil.Schema{Optional: []string{"bytes_per_char"}}, &c); err != nil {
			return nil, err
		}
		return mock.NewSynthesizer(c), nil
	})

	r.RegisterLLM("openai", func(cfg VendorConfig) (llm.LLMAdapter, error) {
		var c openai.Config
		schema := configutil.Schema{Optional: []string{"api_key", "model", "base_url", "referer", "title", "timeout_ms"}}
		if err := decodeVendor("llm", cfg, schema, &c); err != nil {
			return nil, err
		}
		c.APIKey = configutil.StringOrEnv(c.APIKey, "OPENROUTER_API_KEY")
		c.Model = configutil.StringOrEnv(c.Model, "AI_MODEL")
		if err := configutil.RequireString(c.APIKey, "vendors.llm.settings.api_key (or OPENROUTER_API_KEY)"); err != nil {
			return nil, err
		}
		return openai.NewAdapterFromConfig(c), nil
	})
	r.RegisterLLM("mock", func(cfg VendorConfig) (llm.LLMAdapter, error) {
		var c mock.LLMConfig
		if err := decodeVendor("llm", cfg, configutil.Schema{Optional: []string{"response_text", "echo", "finish_reason"}}, &c); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(c), nil
	})
	return r
}
