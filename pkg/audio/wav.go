package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// Format describes linear PCM carried in a WAV container.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// TelephonyFormat is 8 kHz mono signed 16-bit.
var TelephonyFormat = Format{SampleRate: SampleRate, Channels: 1, BitsPerSample: 16}

var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV prefixes raw PCM with a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], uint16(f.BitsPerSample))
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV walks the RIFF chunks and returns the PCM data chunk and its
// format. Only uncompressed PCM is accepted.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, Format{}, ErrNotWAV
	}
	var f Format
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d)", size)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported wav format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return data[body : body+size], f, nil
		}
		pos = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: wav has no data chunk")
}
