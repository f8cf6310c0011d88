package export

import (
	"fmt"
	"strings"
)

type Markdown struct{}

var _ Renderer = Markdown{}

func (Markdown) Render(doc Document) ([]byte, error) {
	var b strings.Builder
	if doc.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	} else {
		fmt.Fprintf(&b, "# %s\n\n", DefaultTitle)
	}
	for _, p := range doc.Paragraphs {
		fmt.Fprintf(&b, "%s\n\n", p)
	}
	return []byte(b.String()), nil
}

func (Markdown) Extension() string { return ".md" }

func (Markdown) ContentType() string { return "text/markdown; charset=utf-8" }
