package media

import (
	"io"

	"golang.org/x/text/language"
)

// AudioStream describes one audio track reported by ffprobe.
type AudioStream struct {
	Index      int          `json:"index"`
	Codec      string       `json:"codec"`
	SampleRate int          `json:"sample_rate"`
	Channels   int          `json:"channels"`
	Language   string       `json:"language"` // raw tag, e.g. "eng"
	LangTag    language.Tag `json:"-"`
	Title      string       `json:"title"`
}

type AudioStreams []AudioStream

// Spoken returns the first stream that carries a language tag.
func (s AudioStreams) Spoken() (AudioStream, bool) {
	for _, st := range s {
		if st.LangTag != language.Und {
			return st, true
		}
	}
	return AudioStream{}, false
}

// Decoder turns an arbitrary audio input into raw mono S16LE PCM.
type Decoder interface {
	Open() (io.ReadCloser, error)
	Probe() (AudioStreams, error)
}
