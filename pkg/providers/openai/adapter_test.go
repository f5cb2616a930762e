package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

func TestGenerateSendsChatRequest(t *testing.T) {
	var got map[string]any
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" Olá! "},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer srv.Close()

	a := NewAdapterFromConfig(Config{
		APIKey:  "k",
		BaseURL: srv.URL + "/",
		Referer: "https://example.com",
		Title:   "callbridge",
	})
	resp, err := a.Generate(context.Background(), llm.Context{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "seja breve"}, {Role: llm.RoleUser, Content: "oi"}},
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "Olá!" || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["model"] != DefaultModel || got["temperature"] != 0.7 || got["max_tokens"] != float64(150) {
		t.Fatalf("unexpected request %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", got["messages"])
	}
	if headers.Get("Authorization") != "Bearer k" || headers.Get("HTTP-Referer") != "https://example.com" || headers.Get("X-Title") != "callbridge" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestGenerateRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	a := NewAdapterFromConfig(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := a.Generate(context.Background(), llm.Context{})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAdapterFromConfig(Config{APIKey: "k", BaseURL: srv.URL})
	if _, err := a.Generate(context.Background(), llm.Context{}); err == nil || resilience.IsRateLimit(err) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestFromProviderFormatNoChoices(t *testing.T) {
	a := NewAdapter("k", "")
	if _, err := a.FromProviderFormat(map[string]any{"choices": []any{}}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}
