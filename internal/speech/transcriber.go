// Package speech turns audio segments into text. Each Transcriber is bound to
// one source language at construction; switching languages means building a
// new one.
package speech

import (
	"context"
	"strings"

	"github.com/MimeLyc/livesub/internal/audio"
)

// Transcriber recognizes the speech in one segment.
//
// Implementations return NoSpeechDetected for empty or unintelligible input,
// Unavailable for upstream failures, and never panic on an empty segment.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (string, error)
}

// LineTranscriber passes through text captured by a line source.
type LineTranscriber struct{}

var _ Transcriber = LineTranscriber{}

func (LineTranscriber) Transcribe(_ context.Context, seg audio.Segment) (string, error) {
	text := strings.TrimSpace(seg.Transcript)
	if text == "" {
		return "", NoSpeechDetected()
	}
	return text, nil
}

// clean normalizes engine output; an empty result means nothing was understood.
func clean(text string) (string, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" || isNonSpeechMarker(text) {
		return "", NoSpeechDetected()
	}
	return text, nil
}

// isNonSpeechMarker matches the bracketed annotations whisper emits for
// silence or noise, e.g. "[BLANK_AUDIO]" or "(music)".
func isNonSpeechMarker(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '[' && last == ']') || (first == '(' && last == ')')
}
