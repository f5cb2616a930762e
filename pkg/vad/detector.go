// Package vad decides where an utterance starts and ends using frame energy.
package vad

import (
	"time"

	"github.com/harunnryd/callbridge/pkg/audio"
)

type Config struct {
	SpeechThreshold float64       `mapstructure:"speech_threshold"`
	Hangover        time.Duration `mapstructure:"hangover"`
	EndpointTimeout time.Duration `mapstructure:"endpoint_timeout"`
	MinSpeechBytes  int           `mapstructure:"min_speech_bytes"`
	HardCapBytes    int           `mapstructure:"hard_cap_bytes"`
}

func DefaultConfig() Config {
	return Config{
		SpeechThreshold: 40,
		Hangover:        700 * time.Millisecond,
		EndpointTimeout: 1000 * time.Millisecond,
		MinSpeechBytes:  8000,
		HardCapBytes:    20000,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = d.SpeechThreshold
	}
	if c.Hangover <= 0 {
		c.Hangover = d.Hangover
	}
	if c.EndpointTimeout <= 0 {
		c.EndpointTimeout = d.EndpointTimeout
	}
	if c.MinSpeechBytes <= 0 {
		c.MinSpeechBytes = d.MinSpeechBytes
	}
	if c.HardCapBytes <= 0 {
		c.HardCapBytes = d.HardCapBytes
	}
	return c
}

type Trigger int

const (
	TriggerNone Trigger = iota
	// TriggerEndpoint fires after a pause once enough speech is buffered.
	TriggerEndpoint
	// TriggerHardCap fires when the buffer is full, even mid-speech.
	TriggerHardCap
)

func (t Trigger) String() string {
	switch t {
	case TriggerEndpoint:
		return "endpoint"
	case TriggerHardCap:
		return "hard_cap"
	default:
		return "none"
	}
}

// Result describes what Push did with one frame.
type Result struct {
	Energy   float64
	Speech   bool
	Captured bool
	Trigger  Trigger
}

// Detector buffers speech frames and reports when the buffered utterance is
// ready. Not safe for concurrent use.
type Detector struct {
	cfg      Config
	buf      []byte
	lastHigh time.Time
	heard    bool
	hold     bool
}

func New(cfg Config) *Detector {
	cfg = cfg.WithDefaults()
	return &Detector{cfg: cfg, buf: make([]byte, 0, cfg.HardCapBytes)}
}

func (d *Detector) Config() Config { return d.cfg }

// SetHold suppresses triggers while an utterance is being processed. Frames
// still accumulate, up to the hard cap, for the next turn.
func (d *Detector) SetHold(hold bool) { d.hold = hold }

// Push evaluates one inbound frame captured at now.
func (d *Detector) Push(frame []byte, now time.Time) Result {
	res := Result{Energy: audio.RMS(frame)}
	res.Speech = res.Energy > d.cfg.SpeechThreshold
	if res.Speech {
		d.lastHigh = now
		d.heard = true
	}

	since, ok := d.sinceSpeech(now)
	res.Captured = res.Speech || (ok && since < d.cfg.Hangover && len(d.buf) > 0)
	if res.Captured {
		if d.hold && len(d.buf)+len(frame) > d.cfg.HardCapBytes {
			res.Captured = false
		} else {
			d.buf = append(d.buf, frame...)
		}
	}

	if d.hold {
		return res
	}
	switch {
	case len(d.buf) >= d.cfg.HardCapBytes:
		res.Trigger = TriggerHardCap
	case len(d.buf) >= d.cfg.MinSpeechBytes && (!ok || since > d.cfg.EndpointTimeout):
		res.Trigger = TriggerEndpoint
	}
	return res
}

// sinceSpeech is the time since the last high-energy frame; ok is false when
// no speech has been heard, which counts as infinitely long ago.
func (d *Detector) sinceSpeech(now time.Time) (time.Duration, bool) {
	if !d.heard {
		return 0, false
	}
	return now.Sub(d.lastHigh), true
}

// Take hands over the buffered utterance and starts a fresh buffer.
func (d *Detector) Take() []byte {
	out := d.buf
	d.buf = make([]byte, 0, d.cfg.HardCapBytes)
	return out
}

// Reset discards buffered audio. Speech timing is kept.
func (d *Detector) Reset() { d.buf = d.buf[:0] }

func (d *Detector) Len() int { return len(d.buf) }
