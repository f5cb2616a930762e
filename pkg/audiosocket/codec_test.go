package audiosocket

import (
	"bytes"
	"errors"
	"testing"

	as "github.com/CyCoreSystems/audiosocket"
	"pgregory.net/rapid"
)

func TestDecodeAudioFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, FrameSize)
	buf := append([]byte{0x10, 0x01, 0x40}, payload...)

	f, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != 323 {
		t.Fatalf("expected 323 bytes consumed, got %d", n)
	}
	if f.Kind != KindAudio {
		t.Fatalf("expected audio kind, got %s", KindName(f.Kind))
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeIDFrame(t *testing.T) {
	id := []byte("0123456789abcdef")
	buf := append([]byte{0x01, 0x00, 0x10}, id...)

	f, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n != 19 || f.Kind != KindID || !bytes.Equal(f.Payload, id) {
		t.Fatalf("unexpected frame %v consumed=%d", f, n)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("expected valid id frame, got %v", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x10},
		{0x10, 0x01},
		append([]byte{0x10, 0x01, 0x40}, make([]byte, 319)...),
	}
	for i, buf := range cases {
		if _, n, err := Decode(buf); !errors.Is(err, ErrIncomplete) || n != 0 {
			t.Fatalf("case %d: expected ErrIncomplete with nothing consumed, got n=%d err=%v", i, n, err)
		}
	}
}

func TestDecodePayloadDoesNotAliasBuffer(t *testing.T) {
	buf := []byte{0x03, 0x00, 0x01, '5'}
	f, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	buf[3] = '9'
	if f.Payload[0] != '5' {
		t.Fatalf("payload aliases the input buffer")
	}
}

func TestEncode(t *testing.T) {
	out, err := Encode(KindDTMF, []byte{'#'})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if want := []byte{0x03, 0x00, 0x01, '#'}; !bytes.Equal(out, want) {
		t.Fatalf("expected %v, got %v", want, out)
	}

	empty, err := Encode(KindHangup, nil)
	if err != nil || !bytes.Equal(empty, as.HangupMessage()) {
		t.Fatalf("expected hangup message, got %v err=%v", empty, err)
	}
}

func TestDecodeLibraryMessages(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0xFF}, 160)
	stream := append(append([]byte{}, as.SlinMessage(pcm)...), as.HangupMessage()...)

	var fr Framer
	_, _ = fr.Write(stream)
	audio, err := fr.Next()
	if err != nil || audio.Kind != KindAudio || !bytes.Equal(audio.Payload, pcm) {
		t.Fatalf("unexpected slin frame %s err=%v", KindName(audio.Kind), err)
	}
	hangup, err := fr.Next()
	if err != nil || hangup.Kind != KindHangup || len(hangup.Payload) != 0 {
		t.Fatalf("unexpected hangup frame %s err=%v", KindName(hangup.Kind), err)
	}
	if err := hangup.Validate(); err != nil {
		t.Fatalf("hangup should validate: %v", err)
	}

	out, err := Encode(KindAudio, pcm)
	if err != nil || !bytes.Equal(out, as.SlinMessage(pcm)) {
		t.Fatalf("audio encoding differs from the library's slin message")
	}
}

func TestKindName(t *testing.T) {
	if KindName(KindAudio) != "audio" || KindName(KindDTMF) != "dtmf" || KindName(Kind(0x42)) != "unknown(0x42)" {
		t.Fatalf("unexpected kind names")
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	if _, err := Encode(KindAudio, make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := Encode(KindAudio, make([]byte, MaxPayload)); err != nil {
		t.Fatalf("max payload should encode: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		frame Frame
		ok    bool
	}{
		{Frame{Kind: KindHangup}, true},
		{Frame{Kind: KindHangup, Payload: []byte{1}}, false},
		{Frame{Kind: KindID, Payload: make([]byte, 15)}, false},
		{Frame{Kind: KindDTMF, Payload: []byte("12")}, false},
		{Frame{Kind: KindAudio, Payload: make([]byte, 321)}, false},
		{Frame{Kind: KindAudio, Payload: make([]byte, 160)}, true},
		{Frame{Kind: KindError, Payload: []byte{0x02}}, true},
		{Frame{Kind: Kind(0x42), Payload: make([]byte, 7)}, true},
	}
	for i, c := range cases {
		err := c.frame.Validate()
		if c.ok && err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if !c.ok {
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("case %d: expected ProtocolError, got %v", i, err)
			}
		}
	}
}

func TestFramerReassemblesSplitFrames(t *testing.T) {
	audio, _ := Encode(KindAudio, bytes.Repeat([]byte{1, 2}, 160))
	digit, _ := Encode(KindDTMF, []byte{'7'})
	stream := append(append([]byte{}, audio...), digit...)

	var fr Framer
	var got []Frame
	for _, b := range stream {
		_, _ = fr.Write([]byte{b})
		for {
			f, err := fr.Next()
			if errors.Is(err, ErrIncomplete) {
				break
			}
			got = append(got, f)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Kind != KindAudio || len(got[0].Payload) != 320 {
		t.Fatalf("unexpected first frame %s/%d", KindName(got[0].Kind), len(got[0].Payload))
	}
	if got[1].Kind != KindDTMF || got[1].Payload[0] != '7' {
		t.Fatalf("unexpected second frame %v", got[1])
	}
	if fr.Buffered() != 0 {
		t.Fatalf("expected empty residual, got %d", fr.Buffered())
	}
}

func TestFramerSkipsUnknownKindByLength(t *testing.T) {
	unknown, _ := Encode(Kind(0x42), []byte{9, 9, 9, 9})
	digit, _ := Encode(KindDTMF, []byte{'1'})

	var fr Framer
	_, _ = fr.Write(append(unknown, digit...))
	first, err := fr.Next()
	if err != nil || first.Kind != Kind(0x42) {
		t.Fatalf("expected unknown frame, got %v err=%v", first, err)
	}
	second, err := fr.Next()
	if err != nil || second.Kind != KindDTMF {
		t.Fatalf("stream lost alignment after unknown frame: %v err=%v", second, err)
	}
}

func frameGen() *rapid.Generator[Frame] {
	return rapid.Custom(func(t *rapid.T) Frame {
		kind := rapid.SampledFrom([]Kind{KindHangup, KindID, KindDTMF, KindAudio, KindError, Kind(0x42)}).Draw(t, "kind")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 700).Draw(t, "payload")
		return Frame{Kind: kind, Payload: payload}
	})
}

func decodeAll(chunks [][]byte) []Frame {
	var fr Framer
	var out []Frame
	for _, c := range chunks {
		_, _ = fr.Write(c)
		for {
			f, err := fr.Next()
			if err != nil {
				break
			}
			out = append(out, f)
		}
	}
	return out
}

func TestFramerChunkBoundaryIndependence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frames := rapid.SliceOfN(frameGen(), 1, 20).Draw(t, "frames")
		var stream []byte
		for _, f := range frames {
			b, err := Encode(f.Kind, f.Payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			stream = append(stream, b...)
		}

		var chunks [][]byte
		rest := stream
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		whole := decodeAll([][]byte{stream})
		split := decodeAll(chunks)
		if len(whole) != len(frames) || len(split) != len(frames) {
			t.Fatalf("expected %d frames, whole=%d split=%d", len(frames), len(whole), len(split))
		}
		for i := range frames {
			if split[i].Kind != whole[i].Kind || !bytes.Equal(split[i].Payload, whole[i].Payload) {
				t.Fatalf("frame %d differs between contiguous and chunked delivery", i)
			}
			if !bytes.Equal(whole[i].Payload, frames[i].Payload) {
				t.Fatalf("frame %d payload not reconstructed", i)
			}
		}
	})
}
