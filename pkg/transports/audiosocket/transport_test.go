package audiosocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	as "github.com/CyCoreSystems/audiosocket"
	gofrs "github.com/gofrs/uuid"
	"github.com/google/uuid"
	wire "github.com/harunnryd/callbridge/pkg/audiosocket"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/frames"
	"github.com/harunnryd/callbridge/pkg/transports"
)

func startTransport(t *testing.T) (*Transport, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tr := New(Config{Host: "127.0.0.1", Port: 0}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = tr.Stop()
	})
	return tr, tr.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn net.Conn, kind wire.Kind, payload []byte) {
	t.Helper()
	msg, err := wire.Encode(kind, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func nextEvent(t *testing.T, tr *Transport) frames.Frame {
	t.Helper()
	select {
	case f := <-tr.Recv():
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func expectKind(t *testing.T, tr *Transport, kind frames.Kind) frames.Frame {
	t.Helper()
	f := nextEvent(t, tr)
	if f.Kind() != kind {
		t.Fatalf("expected %s event, got %s", kind, f.Kind())
	}
	return f
}

func handshake(t *testing.T, tr *Transport, conn net.Conn) (string, uuid.UUID) {
	t.Helper()
	opened := expectKind(t, tr, frames.KindOpened)
	callID := uuid.New()
	if _, err := conn.Write(as.IDMessage(gofrs.UUID(callID))); err != nil {
		t.Fatalf("write id: %v", err)
	}
	hs := expectKind(t, tr, frames.KindHandshake).(frames.HandshakeFrame)
	if hs.CallID() != callID {
		t.Fatalf("expected call id %s, got %s", callID, hs.CallID())
	}
	return opened.SessionID(), callID
}

func readWire(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := as.NextMessage(conn)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	return wire.Frame{Kind: msg.Kind(), Payload: msg.Payload()}
}

func awaitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("send never completed")
		return nil
	}
}

func TestHandshakeAudioAndHangup(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	samples := bytes.Repeat([]byte{0x10, 0x00}, 160)
	writeFrame(t, conn, wire.KindAudio, samples)
	audio := expectKind(t, tr, frames.KindAudio).(frames.AudioFrame)
	if audio.SessionID() != id || !bytes.Equal(audio.Data(), samples) {
		t.Fatalf("unexpected audio event")
	}

	writeFrame(t, conn, wire.KindDTMF, []byte{'5'})
	if d := expectKind(t, tr, frames.KindDTMF).(frames.DTMFFrame); d.Digit() != "5" {
		t.Fatalf("expected digit 5, got %q", d.Digit())
	}

	writeFrame(t, conn, wire.KindHangup, nil)
	expectKind(t, tr, frames.KindHangup)
	closed := expectKind(t, tr, frames.KindClosed).(frames.ClosedFrame)
	if closed.Reason() != frames.CloseHangup {
		t.Fatalf("expected hangup close reason, got %s", closed.Reason())
	}
	if len(tr.Sessions()) != 0 {
		t.Fatalf("expected registry to be empty, got %v", tr.Sessions())
	}
}

func TestAudioBeforeHandshakeIsDropped(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	expectKind(t, tr, frames.KindOpened)

	writeFrame(t, conn, wire.KindAudio, make([]byte, wire.FrameSize))
	callID := uuid.New()
	writeFrame(t, conn, wire.KindID, callID[:])
	expectKind(t, tr, frames.KindHandshake)
}

func TestDuplicateIDIgnored(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	_, first := handshake(t, tr, conn)

	second := uuid.New()
	writeFrame(t, conn, wire.KindID, second[:])
	writeFrame(t, conn, wire.KindDTMF, []byte{'1'})
	expectKind(t, tr, frames.KindDTMF)

	sess, ok := tr.registry.lookup(tr.Sessions()[0])
	if !ok || *sess.callID.Load() != first {
		t.Fatalf("expected first call id to stick")
	}
}

func TestSplitFramesAcrossWrites(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	handshake(t, tr, conn)

	msg, _ := wire.Encode(wire.KindAudio, bytes.Repeat([]byte{0x01, 0x02}, 160))
	for i := 0; i < len(msg); i += 7 {
		if _, err := conn.Write(msg[i:min(i+7, len(msg))]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	audio := expectKind(t, tr, frames.KindAudio).(frames.AudioFrame)
	if len(audio.RawPayload()) != wire.FrameSize {
		t.Fatalf("expected reassembled frame, got %d bytes", len(audio.RawPayload()))
	}
}

func TestSilenceFrameBecomesZeroAudio(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	handshake(t, tr, conn)

	writeFrame(t, conn, wire.KindSilence, nil)
	audio := expectKind(t, tr, frames.KindAudio).(frames.AudioFrame)
	if !bytes.Equal(audio.RawPayload(), make([]byte, wire.FrameSize)) {
		t.Fatalf("expected a zeroed frame")
	}
}

func TestProtocolErrorClosesSession(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	expectKind(t, tr, frames.KindOpened)

	writeFrame(t, conn, wire.KindID, make([]byte, 5))
	closed := expectKind(t, tr, frames.KindClosed).(frames.ClosedFrame)
	if closed.Reason() != frames.CloseProtocol {
		t.Fatalf("expected protocol close, got %s", closed.Reason())
	}
	if !errorsx.HasReason(closed.Err(), errorsx.ReasonProtocolDesync) {
		t.Fatalf("expected protocol_desync reason, got %v", closed.Err())
	}
}

func TestPeerErrorKeepsConnection(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	writeFrame(t, conn, wire.KindError, []byte{0x02})
	samples := bytes.Repeat([]byte{0x20, 0x00}, 160)
	writeFrame(t, conn, wire.KindAudio, samples)
	audio := expectKind(t, tr, frames.KindAudio).(frames.AudioFrame)
	if !bytes.Equal(audio.Data(), samples) {
		t.Fatalf("audio after an error frame was altered")
	}
	writeFrame(t, conn, wire.KindDTMF, []byte{'3'})
	expectKind(t, tr, frames.KindDTMF)

	done, err := tr.SendAudio(context.Background(), id, make([]byte, wire.FrameSize))
	if err != nil {
		t.Fatalf("send after error frame: %v", err)
	}
	if err := awaitDone(t, done); err != nil {
		t.Fatalf("expected playback to complete, got %v", err)
	}
	if f := readWire(t, conn); f.Kind != wire.KindAudio {
		t.Fatalf("expected audio frame, got %s", wire.KindName(f.Kind))
	}

	writeFrame(t, conn, wire.KindHangup, nil)
	expectKind(t, tr, frames.KindHangup)
	if closed := expectKind(t, tr, frames.KindClosed).(frames.ClosedFrame); closed.Reason() != frames.CloseHangup {
		t.Fatalf("expected hangup close reason, got %s", closed.Reason())
	}
}

func TestUnknownKindSkippedOnLiveConnection(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	handshake(t, tr, conn)

	writeFrame(t, conn, wire.Kind(0x42), []byte{9, 9, 9, 9})
	writeFrame(t, conn, wire.KindAudio, make([]byte, wire.FrameSize))
	expectKind(t, tr, frames.KindAudio)
	writeFrame(t, conn, wire.KindDTMF, []byte{'8'})
	if d := expectKind(t, tr, frames.KindDTMF).(frames.DTMFFrame); d.Digit() != "8" {
		t.Fatalf("expected digit 8, got %q", d.Digit())
	}
	if len(tr.Sessions()) != 1 {
		t.Fatalf("expected the session to stay open, got %v", tr.Sessions())
	}

	writeFrame(t, conn, wire.KindHangup, nil)
	expectKind(t, tr, frames.KindHangup)
	expectKind(t, tr, frames.KindClosed)
}

func TestRemoteCloseEmitsClosed(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	handshake(t, tr, conn)
	_ = conn.Close()

	closed := expectKind(t, tr, frames.KindClosed).(frames.ClosedFrame)
	if closed.Reason() != frames.CloseRemote {
		t.Fatalf("expected remote close, got %s", closed.Reason())
	}
}

func TestSendAudioRejections(t *testing.T) {
	tr, addr := startTransport(t)
	if _, err := tr.SendAudio(context.Background(), "nobody", []byte{1, 2}); !errors.Is(err, transports.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	dial(t, addr)
	opened := expectKind(t, tr, frames.KindOpened)
	if _, err := tr.SendAudio(context.Background(), opened.SessionID(), []byte{1, 2}); !errors.Is(err, transports.ErrHandshakeIncomplete) {
		t.Fatalf("expected ErrHandshakeIncomplete, got %v", err)
	}
}

func TestSendAudioPadsLastFrame(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	pcm := bytes.Repeat([]byte{0x7F}, 1000)
	done, err := tr.SendAudio(context.Background(), id, pcm)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var got []byte
	for i := 0; i < 4; i++ {
		f := readWire(t, conn)
		if f.Kind != wire.KindAudio || len(f.Payload) != wire.FrameSize {
			t.Fatalf("frame %d: unexpected %s/%d", i, wire.KindName(f.Kind), len(f.Payload))
		}
		got = append(got, f.Payload...)
	}
	if !bytes.Equal(got[:1000], pcm) {
		t.Fatalf("audio content mismatch")
	}
	if !bytes.Equal(got[1000:], make([]byte, 280)) {
		t.Fatalf("expected 280 zero bytes of padding")
	}
	if err := awaitDone(t, done); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}
}

func TestSendAudioIsPaced(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	start := time.Now()
	done, err := tr.SendAudio(context.Background(), id, make([]byte, 5*wire.FrameSize))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 5; i++ {
		readWire(t, conn)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("five frames arrived in %v; expected roughly 20ms apart", elapsed)
	}
	if err := awaitDone(t, done); err != nil {
		t.Fatalf("unexpected completion error: %v", err)
	}
}

func TestNewSendSupersedesActive(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)
	go func() { _, _ = io.Copy(io.Discard, conn) }()

	first, err := tr.SendAudio(context.Background(), id, make([]byte, 100*wire.FrameSize))
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := tr.SendAudio(context.Background(), id, make([]byte, wire.FrameSize))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if err := awaitDone(t, first); !errors.Is(err, transports.ErrSendCanceled) {
		t.Fatalf("expected first send canceled, got %v", err)
	}
	if err := awaitDone(t, second); err != nil {
		t.Fatalf("expected second send to finish, got %v", err)
	}
}

func TestCancelSend(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)
	go func() { _, _ = io.Copy(io.Discard, conn) }()

	done, err := tr.SendAudio(context.Background(), id, make([]byte, 100*wire.FrameSize))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	tr.CancelSend(id)
	if err := awaitDone(t, done); !errors.Is(err, transports.ErrSendCanceled) {
		t.Fatalf("expected ErrSendCanceled, got %v", err)
	}
}

func TestSendCompletesWhenSessionCloses(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	done, err := tr.SendAudio(context.Background(), id, make([]byte, 100*wire.FrameSize))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	readWire(t, conn)
	writeFrame(t, conn, wire.KindHangup, nil)

	if err := awaitDone(t, done); !errors.Is(err, transports.ErrSessionClosedDuringSend) {
		t.Fatalf("expected ErrSessionClosedDuringSend, got %v", err)
	}
}

func TestServerHangup(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	id, _ := handshake(t, tr, conn)

	if err := tr.Hangup(id); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if f := readWire(t, conn); f.Kind != wire.KindHangup || len(f.Payload) != 0 {
		t.Fatalf("expected hangup frame, got %s/%d", wire.KindName(f.Kind), len(f.Payload))
	}
	closed := expectKind(t, tr, frames.KindClosed).(frames.ClosedFrame)
	if closed.Reason() != frames.CloseServer {
		t.Fatalf("expected server close, got %s", closed.Reason())
	}
	if err := tr.Hangup(id); !errors.Is(err, transports.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after close, got %v", err)
	}
}

func TestStopKeepsEstablishedSessions(t *testing.T) {
	tr, addr := startTransport(t)
	conn := dial(t, addr)
	handshake(t, tr, conn)

	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatalf("expected new connections to be refused")
	}
	writeFrame(t, conn, wire.KindDTMF, []byte{'9'})
	expectKind(t, tr, frames.KindDTMF)
}

func TestChunkAudio(t *testing.T) {
	msgs, err := chunkAudio(make([]byte, 640), 320)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d err=%v", len(msgs), err)
	}
	if len(msgs[0]) != wire.HeaderSize+320 {
		t.Fatalf("unexpected encoded size %d", len(msgs[0]))
	}
	if msg := as.Message(msgs[1]); msg.Kind() != as.KindSlin || msg.ContentLength() != 320 {
		t.Fatalf("expected a 320 byte slin message, got %s/%d", wire.KindName(msg.Kind()), msg.ContentLength())
	}
	if _, err := chunkAudio(make([]byte, 10), wire.MaxPayload+1); !errors.Is(err, wire.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	empty, _ := chunkAudio(nil, 320)
	if len(empty) != 0 {
		t.Fatalf("expected no messages for empty pcm")
	}
}
