package sink

import (
	"fmt"
	"io"
	"sync"
)

// Console prints subtitles to a terminal.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

var _ SubtitleSink = (*Console)(nil)

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Show(sub Subtitle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Kind {
	case KindLine:
		fmt.Fprintf(c.w, "Recognized: %s\nTranslated: %s\n", sub.Recognized, sub.Text)
	default:
		fmt.Fprintln(c.w, sub.Text)
	}
}
