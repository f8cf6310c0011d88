package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/MimeLyc/livesub/pkg/file"
	"github.com/MimeLyc/livesub/pkg/log"
)

// Artifact is a written document ready to be attached to a message.
type Artifact struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Exporter writes documents to a fixed path, replacing the previous export.
// Writes are serialized and atomic: readers never see a partial file.
type Exporter struct {
	mu       sync.Mutex
	path     string
	renderer Renderer
}

// NewExporter fixes the path extension to match the renderer, so
// EXPORT_PATH=out.docx with markdown output writes out.md.
func NewExporter(path string, renderer Renderer) *Exporter {
	return &Exporter{
		path:     file.ReplaceExt(path, renderer.Extension()),
		renderer: renderer,
	}
}

func (e *Exporter) Path() string {
	return e.path
}

// Export renders doc and overwrites the export file.
func (e *Exporter) Export(ctx context.Context, doc Document) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	data, err := e.renderer.Render(doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("render document: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := file.WriteAtomic(e.path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write document %s: %w", e.path, err)
	}
	log.Info("Exported %d paragraphs to %s", len(doc.Paragraphs), e.path)
	return Artifact{
		Path:        e.path,
		Name:        filepath.Base(e.path),
		ContentType: e.renderer.ContentType(),
		Data:        data,
	}, nil
}
