// Package audio holds the PCM helpers the call pipeline needs: sample
// conversion, energy measurement, μ-law expansion and the WAV container.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is the telephony rate AudioSocket carries.
	SampleRate = 8000
	// BytesPerSample for signed 16-bit linear PCM.
	BytesPerSample = 2
	// BytesPerSecond of 8 kHz mono s16le.
	BytesPerSecond = SampleRate * BytesPerSample
)

// BytesToPCM converts little-endian s16 bytes into samples.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d", len(data))
	}
	pcm := make([]int16, len(data)/BytesPerSample)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes converts samples into little-endian s16 bytes.
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*BytesPerSample)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

// RMS returns the root-mean-square amplitude of little-endian s16 PCM.
// A trailing odd byte is ignored; an empty frame has zero energy.
func RMS(data []byte) float64 {
	n := len(data) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMS is the playback length of s16 PCM at SampleRate.
func DurationMS(data []byte) int {
	return len(data) * 1000 / BytesPerSecond
}
