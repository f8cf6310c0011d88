// Package export renders a session transcript into a document and delivers
// it to a distribution list.
package export

import (
	"strings"

	"github.com/MimeLyc/livesub/internal/session"
)

const (
	DefaultTitle = "Real-time Translated Subtitles"
	// ClosingParagraph ends the document written when a session ends.
	ClosingParagraph = "Session ended."
)

// Document is rebuilt from the transcript on every export.
type Document struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

type buildOptions struct {
	title   string
	closing bool
}

type BuildOption func(*buildOptions)

func WithTitle(title string) BuildOption {
	return func(o *buildOptions) { o.title = title }
}

// WithClosing appends ClosingParagraph after the transcript.
func WithClosing() BuildOption {
	return func(o *buildOptions) { o.closing = true }
}

// Build makes one paragraph per translated line, in transcript order. The
// same lines always produce the same document.
func Build(lines []session.Line, opts ...BuildOption) Document {
	o := buildOptions{title: DefaultTitle}
	for _, opt := range opts {
		opt(&o)
	}
	doc := Document{Title: o.title, Paragraphs: make([]string, 0, len(lines)+1)}
	for _, l := range lines {
		doc.Paragraphs = append(doc.Paragraphs, strings.TrimSpace(l.Translated))
	}
	if o.closing {
		doc.Paragraphs = append(doc.Paragraphs, ClosingParagraph)
	}
	return doc
}

// Renderer encodes a Document in one file format.
type Renderer interface {
	Render(doc Document) ([]byte, error)
	// Extension includes the leading dot.
	Extension() string
	ContentType() string
}
