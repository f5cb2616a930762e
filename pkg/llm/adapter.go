// Package llm is the chat-model contract the responder talks to.
package llm

import (
	"context"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishLength is the finish reason of a reply cut by MaxTokens.
const FinishLength = "length"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is one chat request: the full message list, system first.
type Context struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// LastUser returns the most recent caller message, or "".
func (c Context) LastUser() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Truncated reports a reply that ran into the token limit.
func (r Response) Truncated() bool { return r.FinishReason == FinishLength }

// TrimToSentence drops a trailing partial sentence so speech does not stop
// mid-phrase. Text without any sentence end is returned unchanged.
func TrimToSentence(text string) string {
	cut := strings.LastIndexAny(text, ".!?")
	if cut <= 0 {
		return text
	}
	return strings.TrimSpace(text[:cut+1])
}

type LLMAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	Name() string
}
