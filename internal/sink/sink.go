// Package sink delivers pipeline output: subtitle updates to live
// presentation surfaces and transcript lines to durable logs.
package sink

import (
	"errors"
	"time"

	"github.com/MimeLyc/livesub/internal/session"
)

type Kind string

const (
	// KindInitial is shown before the first utterance.
	KindInitial Kind = "initial"
	// KindLine carries a translated transcript line.
	KindLine Kind = "line"
	// KindNotUnderstood replaces the subtitle when nothing was recognized.
	KindNotUnderstood Kind = "not_understood"
	// KindError shows a recognition service failure.
	KindError Kind = "error"
	// KindEnded is shown once the loop has stopped.
	KindEnded Kind = "ended"
)

// Subtitle is what a presentation surface displays. It replaces whatever was
// shown before.
type Subtitle struct {
	Sequence   uint64    `json:"sequence"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text"`
	Recognized string    `json:"recognized,omitempty"`
	At         time.Time `json:"at"`
}

// SubtitleSink receives subtitle updates. Show must not block for long.
type SubtitleSink interface {
	Show(Subtitle)
}

// LineSink persists published transcript lines in order.
type LineSink interface {
	Append(session.Line) error
}

// Subtitles fans an update out to several sinks.
type Subtitles []SubtitleSink

func (s Subtitles) Show(sub Subtitle) {
	for _, sink := range s {
		sink.Show(sub)
	}
}

// Lines appends to every sink and joins their errors.
type Lines []LineSink

func (l Lines) Append(line session.Line) error {
	var errs []error
	for _, sink := range l {
		if err := sink.Append(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
