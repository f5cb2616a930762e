package transports

import (
	"context"
	"errors"

	"github.com/harunnryd/callbridge/pkg/frames"
)

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrHandshakeIncomplete     = errors.New("handshake incomplete")
	ErrSessionClosedDuringSend = errors.New("session closed during send")
	// ErrSendCanceled completes a send that was superseded by a newer one or
	// stopped with CancelSend.
	ErrSendCanceled = errors.New("send canceled")
)

// Transport is the media boundary between a telephony switch and the call
// layer. Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Recv delivers session events. Events of one session keep stream order.
	Recv() <-chan frames.Frame
	// SendAudio starts a paced playback of pcm and returns a channel that
	// receives exactly one value when the playback ends. Immediate rejections
	// (unknown session, handshake pending) are returned synchronously.
	SendAudio(ctx context.Context, sessionID string, pcm []byte) (<-chan error, error)
	// CancelSend stops the active playback, if any.
	CancelSend(sessionID string)
	// Hangup ends the session from the server side.
	Hangup(sessionID string) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g. the bound
// address). Implementations are optional and used for informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
