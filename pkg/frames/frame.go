// Package frames defines the typed events a transport delivers to the call
// layer. Events for one session arrive in the order the socket produced them.
package frames

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOpened    Kind = "opened"
	KindHandshake Kind = "handshake"
	KindAudio     Kind = "audio"
	KindDTMF      Kind = "dtmf"
	KindHangup    Kind = "hangup"
	KindClosed    Kind = "closed"
)

// Close reasons carried by ClosedFrame.
const (
	CloseRemote    = "remote_closed"
	CloseHangup    = "hangup"
	CloseProtocol  = "protocol_error"
	CloseTransport = "transport_error"
	CloseServer    = "server_hangup"
)

type Frame interface {
	Kind() Kind
	SessionID() string
	PTS() int64
}

type header struct {
	session string
	pts     int64
}

func (h header) SessionID() string { return h.session }
func (h header) PTS() int64        { return h.pts }

type OpenedFrame struct {
	header
	remote string
}

func NewOpenedFrame(sessionID string, pts int64, remote string) OpenedFrame {
	return OpenedFrame{header: header{sessionID, pts}, remote: remote}
}

func (OpenedFrame) Kind() Kind           { return KindOpened }
func (o OpenedFrame) RemoteAddr() string { return o.remote }

// HandshakeFrame carries the call identifier the switch sent in its ID frame.
type HandshakeFrame struct {
	header
	callID uuid.UUID
}

func NewHandshakeFrame(sessionID string, pts int64, callID uuid.UUID) HandshakeFrame {
	return HandshakeFrame{header: header{sessionID, pts}, callID: callID}
}

func (HandshakeFrame) Kind() Kind          { return KindHandshake }
func (h HandshakeFrame) CallID() uuid.UUID { return h.callID }

type AudioFrame struct {
	header
	data   []byte
	pooled bool
}

func NewAudioFrame(sessionID string, pts int64, data []byte) AudioFrame {
	return AudioFrame{header: header{sessionID, pts}, data: data}
}

// NewAudioFrameFromPool copies data into a pooled buffer. The consumer hands
// it back with ReleaseAudioFrame once the samples have been copied out.
func NewAudioFrameFromPool(sessionID string, pts int64, data []byte) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{header: header{sessionID, pts}, data: buf, pooled: true}
}

func (AudioFrame) Kind() Kind           { return KindAudio }
func (a AudioFrame) Data() []byte       { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte { return a.data }

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		return false
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

type DTMFFrame struct {
	header
	digit byte
}

func NewDTMFFrame(sessionID string, pts int64, digit byte) DTMFFrame {
	return DTMFFrame{header: header{sessionID, pts}, digit: digit}
}

func (DTMFFrame) Kind() Kind      { return KindDTMF }
func (d DTMFFrame) Digit() string { return string(rune(d.digit)) }

// HangupFrame reports that the peer asked to terminate the call.
type HangupFrame struct {
	header
}

func NewHangupFrame(sessionID string, pts int64) HangupFrame {
	return HangupFrame{header: header{sessionID, pts}}
}

func (HangupFrame) Kind() Kind { return KindHangup }

// ClosedFrame is the last event of every session.
type ClosedFrame struct {
	header
	reason string
	err    error
}

func NewClosedFrame(sessionID string, pts int64, reason string, err error) ClosedFrame {
	return ClosedFrame{header: header{sessionID, pts}, reason: reason, err: err}
}

func (ClosedFrame) Kind() Kind       { return KindClosed }
func (c ClosedFrame) Reason() string { return c.reason }
func (c ClosedFrame) Err() error     { return c.err }

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 512)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}
