// Package audiosocket frames the Asterisk AudioSocket wire format: a one-byte
// kind, a big-endian 16-bit payload length and the payload itself. Message
// layout and the standard kinds come from github.com/CyCoreSystems/audiosocket;
// this package adds buffer-based decoding for partial reads, per-kind length
// checks and the DTMF kind the library does not name.
package audiosocket

import (
	"errors"
	"fmt"

	as "github.com/CyCoreSystems/audiosocket"
)

// Kind is the library's message kind.
type Kind = as.Kind

const (
	KindHangup  Kind = as.KindHangup
	KindID      Kind = as.KindID
	KindSilence Kind = as.KindSilence
	KindDTMF    Kind = 0x03
	KindAudio   Kind = as.KindSlin
	KindError   Kind = as.KindError
)

const (
	// HeaderSize is the fixed kind+length prefix of every frame.
	HeaderSize = 3
	// MaxPayload is the largest payload a 16-bit length can describe.
	MaxPayload = 0xFFFF
	// IDSize is the payload length of an ID frame (a UUID).
	IDSize = 16
	// FrameSize is one 20 ms slice of 8 kHz signed 16-bit mono PCM.
	FrameSize = 320
)

var (
	// ErrIncomplete reports that the buffer does not yet hold a whole frame.
	ErrIncomplete = errors.New("audiosocket: incomplete frame")
	// ErrPayloadTooLarge is returned by Encode for payloads over MaxPayload.
	ErrPayloadTooLarge = errors.New("audiosocket: payload too large")
)

// KindName is the lower-case name used in logs.
func KindName(k Kind) string {
	switch k {
	case KindHangup:
		return "hangup"
	case KindID:
		return "id"
	case KindSilence:
		return "silence"
	case KindDTMF:
		return "dtmf"
	case KindAudio:
		return "audio"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Frame is one decoded wire message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// ProtocolError marks a frame whose declared length cannot belong to its kind,
// which means the byte stream has lost alignment.
type ProtocolError struct {
	Kind   Kind
	Length int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("audiosocket: protocol error on %s frame (length %d): %s", KindName(e.Kind), e.Length, e.Reason)
}

// Validate checks the payload length against the kind's fixed size.
// Unknown kinds are always valid; the caller skips them by their length.
func (f Frame) Validate() error {
	n := len(f.Payload)
	switch f.Kind {
	case KindHangup:
		if n != 0 {
			return &ProtocolError{Kind: f.Kind, Length: n, Reason: "hangup carries no payload"}
		}
	case KindID:
		if n != IDSize {
			return &ProtocolError{Kind: f.Kind, Length: n, Reason: "id must be 16 bytes"}
		}
	case KindDTMF:
		if n != 1 {
			return &ProtocolError{Kind: f.Kind, Length: n, Reason: "dtmf must be 1 byte"}
		}
	case KindAudio:
		if n%2 != 0 {
			return &ProtocolError{Kind: f.Kind, Length: n, Reason: "audio must hold whole 16-bit samples"}
		}
	}
	return nil
}

// Decode reads one frame from the head of buf. It returns ErrIncomplete
// without consuming anything until buf holds the header and the full payload.
// The returned payload does not alias buf.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrIncomplete
	}
	total := HeaderSize + int(as.Message(buf[:HeaderSize]).ContentLength())
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	msg := make(as.Message, total)
	copy(msg, buf)
	f := Frame{Kind: msg.Kind()}
	if total > HeaderSize {
		f.Payload = msg.Payload()
	}
	return f, total, nil
}

// Encode serialises a frame. Audio and hangup use the library's builders.
func Encode(kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	switch {
	case kind == KindAudio:
		return as.SlinMessage(payload), nil
	case kind == KindHangup && len(payload) == 0:
		return as.HangupMessage(), nil
	}
	out := make(as.Message, HeaderSize+len(payload))
	out[0] = byte(kind)
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload))
	copy(out[HeaderSize:], payload)
	return out, nil
}
