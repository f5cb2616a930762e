package conversation

import (
	"errors"

	"github.com/harunnryd/callbridge/pkg/llm"
)

var errEmptyReply = errors.New("llm returned an empty reply")

// pruneByHistory keeps the most recent limit messages.
func pruneByHistory(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	out := make([]llm.Message, limit)
	copy(out, messages[len(messages)-limit:])
	return out
}

// pruneByTokens drops the oldest messages until the estimate fits. The
// system prompt is always kept.
func pruneByTokens(system string, messages []llm.Message, maxTokens int) []llm.Message {
	budget := maxTokens - estimateTokens(system)
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}
	for total > budget && len(messages) > 1 {
		total -= estimateTokens(messages[0].Content)
		messages = messages[1:]
	}
	return messages
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}
