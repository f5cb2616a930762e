// Package openai talks to OpenAI-compatible chat completion APIs. The default
// endpoint is OpenRouter.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "anthropic/claude-3.5-sonnet"
)

// Config is decoded from vendors.llm.settings.
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	// Referer and Title are OpenRouter attribution headers.
	Referer   string `mapstructure:"referer"`
	Title     string `mapstructure:"title"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string
	Title   string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return NewAdapterFromConfig(Config{APIKey: apiKey, Model: model})
}

func NewAdapterFromConfig(cfg Config) *Adapter {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	timeout := 60 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Adapter{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Referer: cfg.Referer,
		Title:   cfg.Title,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) FromProviderFormat(raw map[string]any) (llm.Response, error) {
	choices, _ := raw["choices"].([]any)
	if len(choices) == 0 {
		return llm.Response{}, errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	resp := llm.Response{Text: strings.TrimSpace(content)}
	if reason, _ := first["finish_reason"].(string); reason != "" {
		resp.FinishReason = reason
	}
	if usage, ok := raw["usage"].(map[string]any); ok {
		resp.Usage = llm.Usage{
			PromptTokens:     intValue(usage["prompt_tokens"]),
			CompletionTokens: intValue(usage["completion_tokens"]),
			TotalTokens:      intValue(usage["total_tokens"]),
		}
	}
	return resp, nil
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if err := resilience.CheckResponse(a.Name(), resp); err != nil {
		return llm.Response{}, fmt.Errorf("chat completions: %w", err)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, fmt.Errorf("decode chat completion: %w", err)
	}
	return a.FromProviderFormat(payload)
}

func (a *Adapter) buildRequest(input llm.Context) (*bytes.Buffer, error) {
	req := map[string]any{
		"model":    a.Model,
		"messages": input.Messages,
		"top_p":    1,
	}
	if input.Temperature > 0 {
		req["temperature"] = input.Temperature
	}
	if input.MaxTokens > 0 {
		req["max_tokens"] = input.MaxTokens
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	if a.Referer != "" {
		req.Header.Set("HTTP-Referer", a.Referer)
	}
	if a.Title != "" {
		req.Header.Set("X-Title", a.Title)
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func intValue(v any) int {
	f, _ := v.(float64)
	return int(f)
}

var _ llm.LLMAdapter = (*Adapter)(nil)
