package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/livesub/internal/session"
)

// FileLog appends each translated line to a plain text file, one per line.
// Existing content is kept, so several sessions share one log.
type FileLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

var _ LineSink = (*FileLog)(nil)

func NewFileLog(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript log: %w", err)
	}
	return &FileLog{path: path, file: f}, nil
}

func (l *FileLog) Path() string {
	return l.path
}

// Append writes the translated text. Embedded newlines are flattened so one
// record stays one line.
func (l *FileLog) Append(line session.Line) error {
	text := strings.Join(strings.Fields(line.Translated), " ")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("transcript log %s is closed", l.path)
	}
	if _, err := l.file.WriteString(text + "\n"); err != nil {
		return fmt.Errorf("write transcript log: %w", err)
	}
	return l.file.Sync()
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
