package call

import (
	"time"

	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/vad"
)

type Config struct {
	VAD vad.Config
	// Instruction is installed as the system prompt of every call.
	Instruction string
	// GreetingClip is pre-rendered PCM played on connect. It wins over
	// GreetingText.
	GreetingClip []byte
	// GreetingText is synthesized on connect when no clip is set.
	GreetingText string
	// ApologyText is spoken when a turn fails.
	ApologyText string
	// TurnTimeout bounds one transcribe, respond and synthesize round.
	TurnTimeout time.Duration
	InboxSize   int
}

func (c Config) withDefaults() Config {
	c.VAD = c.VAD.WithDefaults()
	if c.ApologyText == "" {
		c.ApologyText = conversation.DefaultApology
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 30 * time.Second
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	return c
}
