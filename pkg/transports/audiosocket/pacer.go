package audiosocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	as "github.com/CyCoreSystems/audiosocket"
	wire "github.com/harunnryd/callbridge/pkg/audiosocket"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/transports"
)

// pacer writes one audio frame per tick. Completion is reported exactly once
// on done.
type pacer struct {
	cancel context.CancelFunc
	exited chan struct{}
}

func (p *pacer) stop() {
	p.cancel()
	<-p.exited
}

// chunkAudio splits pcm into slin messages of frameSize bytes, zero padding
// the last one.
func chunkAudio(pcm []byte, frameSize int) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	if frameSize > wire.MaxPayload {
		return nil, wire.ErrPayloadTooLarge
	}
	count := (len(pcm) + frameSize - 1) / frameSize
	out := make([][]byte, 0, count)
	for off := 0; off < len(pcm); off += frameSize {
		chunk := make([]byte, frameSize)
		copy(chunk, pcm[off:min(off+frameSize, len(pcm))])
		out = append(out, as.SlinMessage(chunk))
	}
	return out, nil
}

func (t *Transport) startPacer(ctx context.Context, sess *session, msgs [][]byte) <-chan error {
	done := make(chan error, 1)
	pctx, cancel := context.WithCancel(ctx)
	p := &pacer{cancel: cancel, exited: make(chan struct{})}
	sess.replacePacer(p)

	go func() {
		defer close(p.exited)
		defer cancel()
		defer sess.clearPacer(p)
		done <- t.pace(pctx, sess, msgs)
	}()
	return done
}

// pace resolves on the tick after the last frame went out, so completion
// lines up with the end of playback on the far side.
func (t *Transport) pace(ctx context.Context, sess *session, msgs [][]byte) error {
	ticker := time.NewTicker(t.cfg.FrameDuration)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return transports.ErrSendCanceled
		case <-sess.done:
			return transports.ErrSessionClosedDuringSend
		case <-ticker.C:
		}
		if next >= len(msgs) {
			return nil
		}
		if _, ok := t.registry.lookup(sess.id); !ok {
			return transports.ErrSessionClosedDuringSend
		}
		if err := sess.write(ctx, msgs[next]); err != nil {
			if errors.Is(err, transports.ErrSendCanceled) || errors.Is(err, transports.ErrSessionClosedDuringSend) {
				return err
			}
			if sess.isClosed() {
				return transports.ErrSessionClosedDuringSend
			}
			werr := errorsx.Wrap(fmt.Errorf("audiosocket write: %w", err), errorsx.ReasonTransportIO)
			t.log.Error("audiosocket_write_failed", append([]any{"session_id", sess.id, "frame", next}, errorsx.Attrs(werr)...)...)
			sess.failWrite(werr)
			return werr
		}
		next++
	}
}
