package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/callbridge/pkg/llm"
)

type LLMConfig struct {
	ResponseText string `mapstructure:"response_text"`
	// Echo replies with the last user message instead of ResponseText.
	Echo bool `mapstructure:"echo"`
	// FinishReason defaults to "stop".
	FinishReason string `mapstructure:"finish_reason"`
	Err          error
}

type LLMAdapter struct {
	cfg LLMConfig

	mu     sync.Mutex
	inputs []llm.Context
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	if cfg.FinishReason == "" {
		cfg.FinishReason = "stop"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, input)
	a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	text := a.cfg.ResponseText
	if a.cfg.Echo {
		text = input.LastUser()
	}
	return llm.Response{Text: text, FinishReason: a.cfg.FinishReason}, nil
}

// Inputs returns every context the adapter was called with.
func (a *LLMAdapter) Inputs() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Context(nil), a.inputs...)
}
