// Package call runs the per-call turn-taking loop: it listens for an
// utterance, sends it through transcription, reply generation and synthesis,
// and plays the answer back while ignoring the caller.
package call

import (
	"context"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
)

// Responder produces the reply text for a caller utterance and owns the
// conversation history of every session.
type Responder interface {
	SetInstruction(sessionID, text string)
	// Respond never fails; on error it returns an apology.
	Respond(ctx context.Context, sessionID, text string) string
	Reset(sessionID string)
}

// Collaborators are the external services a call depends on.
type Collaborators struct {
	Transcriber stt.Transcriber
	Responder   Responder
	Synthesizer tts.Synthesizer
}

// AudioSender is the slice of the transport a session drives.
type AudioSender interface {
	SendAudio(ctx context.Context, sessionID string, pcm []byte) (<-chan error, error)
	CancelSend(sessionID string)
	Hangup(sessionID string) error
}
