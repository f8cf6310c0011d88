package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWaitTimeout means no speech started within the wait bound.
	// It is not a failure; callers go back to listening.
	ErrWaitTimeout = errors.New("audio: no speech before wait timeout")
	// ErrEndOfStream means the input was exhausted and no more segments will arrive.
	ErrEndOfStream = errors.New("audio: end of stream")
)

// Format describes raw PCM samples.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultFormat is 16 kHz 16-bit mono, the common input for speech engines.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// BytesPerSecond of audio in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration of n bytes of audio in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Segment is one bounded utterance. It is owned by a single pipeline
// iteration and dropped once transcription has been attempted.
type Segment struct {
	PCM        []byte
	Format     Format
	Duration   time.Duration
	CapturedAt time.Time
	// Transcript is set by text sources that already know what was said.
	Transcript string
}

// Empty reports whether the segment carries neither audio nor text.
func (s Segment) Empty() bool {
	return len(s.PCM) == 0 && s.Transcript == ""
}

// Source yields speech segments from a capture device.
type Source interface {
	// Open acquires the device. It is called once per session.
	Open(ctx context.Context) error
	// Calibrate samples ambient noise for d and adjusts the speech threshold.
	Calibrate(ctx context.Context, d time.Duration) error
	// Next waits up to maxWait for speech to start and returns the utterance,
	// cut at maxPhrase. It returns ErrWaitTimeout when nobody spoke.
	Next(ctx context.Context, maxWait, maxPhrase time.Duration) (Segment, error)
	Close() error
}
