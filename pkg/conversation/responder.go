// Package conversation keeps per-call chat history and turns caller text into
// a spoken reply through an LLM adapter.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

const DefaultApology = "Desculpe, estou tendo problemas técnicos. Pode repetir?"

type Config struct {
	Instruction string `mapstructure:"instruction"`
	Apology     string `mapstructure:"apology_text"`
	// MaxHistory bounds the non-system messages kept per call.
	MaxHistory int `mapstructure:"max_history"`
	// MaxContextTokens, when set, drops the oldest exchanges until the
	// estimated prompt fits.
	MaxContextTokens int           `mapstructure:"max_context_tokens"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Apology) == "" {
		c.Apology = DefaultApology
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 10
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// Responder owns one conversation per session id.
type Responder struct {
	adapter llm.LLMAdapter
	cfg     Config
	log     *slog.Logger
	obs     metrics.Observer

	mu       sync.Mutex
	sessions map[string]*history
}

type history struct {
	system   string
	messages []llm.Message
}

func NewResponder(adapter llm.LLMAdapter, cfg Config, log *slog.Logger) *Responder {
	return &Responder{
		adapter:  adapter,
		cfg:      cfg.withDefaults(),
		log:      logging.NewComponentLogger(log, "responder"),
		obs:      metrics.NoopObserver{},
		sessions: make(map[string]*history),
	}
}

func (r *Responder) SetObserver(obs metrics.Observer) { r.obs = metrics.OrNoop(obs) }

// Apology is the text returned when a reply cannot be generated.
func (r *Responder) Apology() string { return r.cfg.Apology }

// SetInstruction installs the system prompt for a session, starting a fresh
// history.
func (r *Responder) SetInstruction(sessionID, text string) {
	if strings.TrimSpace(text) == "" {
		text = r.cfg.Instruction
	}
	r.mu.Lock()
	r.sessions[sessionID] = &history{system: text}
	r.mu.Unlock()
}

// Reset forgets the session's history.
func (r *Responder) Reset(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Sessions reports how many conversations are held.
func (r *Responder) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// History returns a copy of the messages that would be sent for the session,
// system prompt first.
func (r *Responder) History(sessionID string) []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.sessions[sessionID]
	if h == nil {
		return nil
	}
	return h.snapshot()
}

// Respond appends the caller's text, asks the model for a reply and records
// it. It never fails: any error yields the apology and leaves the history as
// it was. A session without SetInstruction, or one already Reset, gets a
// one-off reply and nothing is stored for it.
func (r *Responder) Respond(ctx context.Context, sessionID, text string) string {
	r.mu.Lock()
	h := r.sessions[sessionID]
	user := llm.Message{Role: llm.RoleUser, Content: text}
	var msgs []llm.Message
	if h != nil {
		h.messages = append(h.messages, user)
		msgs = h.snapshot()
	} else {
		msgs = (&history{system: r.cfg.Instruction, messages: []llm.Message{user}}).snapshot()
	}
	input := llm.Context{
		Messages:    msgs,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	r.mu.Unlock()

	r.log.Info("llm_input_received", "session_id", sessionID, "text", redact.Text(text))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := r.adapter.Generate(ctx, input)
	reply := strings.TrimSpace(resp.Text)
	if err == nil && reply == "" {
		err = errorsx.Wrap(errEmptyReply, errorsx.ReasonLLMGenerate)
	}
	r.record(sessionID, start, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	h = r.sessions[sessionID]
	if err != nil {
		reason := errorsx.ReasonLLMGenerate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		err = errorsx.Wrap(err, reason)
		r.log.Error("llm_generate_error", append([]any{"session_id", sessionID}, errorsx.Attrs(err)...)...)
		if h != nil {
			h.popLastUser()
		}
		return r.cfg.Apology
	}
	if resp.Truncated() {
		trimmed := llm.TrimToSentence(reply)
		r.log.Warn("llm_reply_truncated", "session_id", sessionID, "max_tokens", input.MaxTokens, "dropped_chars", len(reply)-len(trimmed))
		reply = trimmed
	}
	if h == nil {
		// Unknown or reset while the request was in flight; the call is gone.
		return reply
	}
	h.messages = append(h.messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
	h.messages = pruneByHistory(h.messages, r.cfg.MaxHistory)
	if r.cfg.MaxContextTokens > 0 {
		h.messages = pruneByTokens(h.system, h.messages, r.cfg.MaxContextTokens)
	}
	r.log.Info("llm_reply", "session_id", sessionID, "text", redact.Text(reply), "latency_ms", time.Since(start).Milliseconds())
	return reply
}

func (r *Responder) record(sessionID string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventResponse,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags: map[string]string{
			metrics.TagSession:  sessionID,
			metrics.TagProvider: r.adapter.Name(),
			metrics.TagOutcome:  outcome,
		},
	})
}

func (h *history) snapshot() []llm.Message {
	out := make([]llm.Message, 0, len(h.messages)+1)
	if h.system != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: h.system})
	}
	return append(out, h.messages...)
}

func (h *history) popLastUser() {
	if n := len(h.messages); n > 0 && h.messages[n-1].Role == llm.RoleUser {
		h.messages = h.messages[:n-1]
	}
}
