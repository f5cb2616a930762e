// Package audiosocket serves Asterisk AudioSocket connections over TCP and
// exposes them as a transports.Transport.
package audiosocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	as "github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	wire "github.com/harunnryd/callbridge/pkg/audiosocket"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/transports"
)

type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	FrameSize       int           `mapstructure:"frame_size"`
	FrameDuration   time.Duration `mapstructure:"frame_duration"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	EventBufferSize int           `mapstructure:"event_buffer_size"`
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.FrameSize <= 0 {
		c.FrameSize = wire.FrameSize
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 512
	}
	return c
}

// Addr is the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Transport struct {
	cfg      Config
	log      *slog.Logger
	registry *registry
	recvCh   chan frames.Frame

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	stopped  atomic.Bool
}

var (
	_ transports.Transport     = (*Transport)(nil)
	_ transports.ReadyReporter = (*Transport)(nil)
)

func New(cfg Config, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:      cfg,
		log:      logging.NewComponentLogger(log, "audiosocket"),
		registry: newRegistry(),
		recvCh:   make(chan frames.Frame, cfg.EventBufferSize),
	}
}

func (t *Transport) Name() string { return "audiosocket" }

// Recv is never closed; consumers stop on their own context.
func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Addr reports the bound address once Start has returned.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) ReadyFields() map[string]any {
	fields := map[string]any{"listen_addr": t.cfg.Addr()}
	if addr := t.Addr(); addr != nil {
		fields["listen_addr"] = addr.String()
	}
	return fields
}

// Sessions lists the ids of connections that are still open.
func (t *Transport) Sessions() []string { return t.registry.ids() }

// Start binds the listener and accepts connections until Stop or ctx ends.
// A bind failure is returned synchronously.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.Addr())
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("audiosocket listen %s: %w", t.cfg.Addr(), err), errorsx.ReasonTransportListen)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go t.acceptLoop(ctx, ln)
	t.log.Info("audiosocket_listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener. Established connections are left to finish.
func (t *Transport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Wait blocks until every connection goroutine has emitted its closed event.
func (t *Transport) Wait() { t.conns.Wait() }

func (t *Transport) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("audiosocket_accept_failed", "error", err.Error())
			continue
		}
		t.conns.Add(1)
		go func() {
			defer t.conns.Done()
			t.serve(ctx, conn)
		}()
	}
}

func (t *Transport) serve(ctx context.Context, conn net.Conn) {
	id := conn.RemoteAddr().String()
	if _, dup := t.registry.lookup(id); dup {
		id = id + "#" + uuid.NewString()[:8]
	}
	sess := newSession(id, conn, t.cfg.WriteTimeout)
	t.registry.add(sess)
	t.log.Info("audiosocket_connection_opened", "session_id", id)
	t.emit(ctx, frames.NewOpenedFrame(id, time.Now().UnixNano(), conn.RemoteAddr().String()))

	reason, cause := t.readLoop(ctx, sess)

	sess.markClosed()
	t.registry.remove(id)
	_ = conn.Close()

	attrs := []any{"session_id", id, "reason", reason, "duration_ms", time.Since(sess.opened).Milliseconds()}
	attrs = append(attrs, errorsx.Attrs(cause)...)
	t.log.Info("audiosocket_connection_closed", attrs...)
	t.emit(ctx, frames.NewClosedFrame(id, time.Now().UnixNano(), reason, cause))
}

func (t *Transport) readLoop(ctx context.Context, sess *session) (string, error) {
	var framer wire.Framer
	buf := make([]byte, t.cfg.ReadBufferSize)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			_, _ = framer.Write(buf[:n])
			for {
				f, ferr := framer.Next()
				if ferr != nil {
					break
				}
				if end := t.dispatch(ctx, sess, f); end != nil {
					return end.reason, end.err
				}
			}
		}
		if err != nil {
			return t.closeReason(sess, err)
		}
	}
}

func (t *Transport) closeReason(sess *session, err error) (string, error) {
	if werr := sess.lastWriteErr(); werr != nil {
		return frames.CloseTransport, werr
	}
	if sess.serverHangup.Load() {
		return frames.CloseServer, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return frames.CloseRemote, nil
	}
	return frames.CloseTransport, errorsx.Wrap(fmt.Errorf("audiosocket read: %w", err), errorsx.ReasonTransportIO)
}

type closing struct {
	reason string
	err    error
}

// dispatch handles one decoded frame. A non-nil result ends the session.
func (t *Transport) dispatch(ctx context.Context, sess *session, f wire.Frame) *closing {
	if err := f.Validate(); err != nil {
		t.log.Error("audiosocket_protocol_error",
			"session_id", sess.id,
			"kind", wire.KindName(f.Kind),
			"length", len(f.Payload),
			"reason_code", string(errorsx.ReasonProtocolDesync),
			"error", err.Error(),
		)
		return &closing{reason: frames.CloseProtocol, err: errorsx.Wrap(err, errorsx.ReasonProtocolDesync)}
	}
	now := time.Now().UnixNano()
	switch f.Kind {
	case wire.KindID:
		callID, _ := uuid.FromBytes(f.Payload)
		if !sess.setCallID(callID) {
			t.log.Warn("audiosocket_duplicate_id", "session_id", sess.id, "call_id", callID.String())
			return nil
		}
		t.log.Info("audiosocket_handshake", "session_id", sess.id, "call_id", callID.String())
		t.emit(ctx, frames.NewHandshakeFrame(sess.id, now, callID))
	case wire.KindAudio:
		if !sess.handshake.Load() {
			return nil
		}
		if len(f.Payload) != t.cfg.FrameSize {
			t.log.Debug("audiosocket_odd_frame_size", "session_id", sess.id, "length", len(f.Payload))
		}
		t.emit(ctx, frames.NewAudioFrameFromPool(sess.id, now, f.Payload))
	case wire.KindSilence:
		if !sess.handshake.Load() {
			return nil
		}
		t.emit(ctx, frames.NewAudioFrameFromPool(sess.id, now, make([]byte, t.cfg.FrameSize)))
	case wire.KindDTMF:
		t.emit(ctx, frames.NewDTMFFrame(sess.id, now, f.Payload[0]))
	case wire.KindHangup:
		t.emit(ctx, frames.NewHangupFrame(sess.id, now))
		return &closing{reason: frames.CloseHangup}
	case wire.KindError:
		var code int
		if len(f.Payload) > 0 {
			code = int(f.Payload[0])
		}
		t.log.Warn("audiosocket_peer_error", "session_id", sess.id, "code", code)
	default:
		t.log.Warn("audiosocket_unknown_kind", "session_id", sess.id, "kind", wire.KindName(f.Kind), "length", len(f.Payload))
	}
	return nil
}

// emit blocks until the consumer takes the event so ordering and audio are
// never dropped; it gives up only when the transport context ends.
func (t *Transport) emit(ctx context.Context, f frames.Frame) {
	select {
	case t.recvCh <- f:
	case <-ctx.Done():
		frames.ReleaseAudioFrame(f)
	}
}

// SendAudio plays pcm on the session at one frame per FrameDuration. A newer
// send replaces the active one, which completes with ErrSendCanceled.
func (t *Transport) SendAudio(ctx context.Context, sessionID string, pcm []byte) (<-chan error, error) {
	sess, ok := t.registry.lookup(sessionID)
	if !ok {
		return nil, transports.ErrSessionNotFound
	}
	if !sess.handshake.Load() {
		return nil, transports.ErrHandshakeIncomplete
	}
	msgs, err := chunkAudio(pcm, t.cfg.FrameSize)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.log.Debug("audiosocket_send_started", "session_id", sessionID, "bytes", len(pcm), "frames", len(msgs))
	return t.startPacer(ctx, sess, msgs), nil
}

func (t *Transport) CancelSend(sessionID string) {
	t.registry.mu.RLock()
	sess := t.registry.sessions[sessionID]
	t.registry.mu.RUnlock()
	if sess != nil {
		sess.cancelPacer()
	}
}

// Hangup stops playback, sends a hangup frame and closes the socket. The
// session still ends with a closed event carrying CloseServer.
func (t *Transport) Hangup(sessionID string) error {
	sess, ok := t.registry.lookup(sessionID)
	if !ok {
		return transports.ErrSessionNotFound
	}
	sess.cancelPacer()
	sess.serverHangup.Store(true)
	err := sess.write(context.Background(), as.HangupMessage())
	_ = sess.conn.Close()
	if err != nil && !errors.Is(err, transports.ErrSessionClosedDuringSend) {
		return errorsx.Wrap(fmt.Errorf("audiosocket hangup: %w", err), errorsx.ReasonTransportIO)
	}
	return nil
}
