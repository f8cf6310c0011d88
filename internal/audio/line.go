package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LineSource treats each input line as an already recognized utterance.
// It replaces the microphone when typing into a terminal or piping text.
type LineSource struct {
	open OpenFunc

	rc    io.ReadCloser
	lines chan string
	done  chan struct{}

	mu      sync.Mutex
	scanErr error

	closeOnce sync.Once
}

var _ Source = (*LineSource)(nil)

func NewLineSource(open OpenFunc) *LineSource {
	return &LineSource{
		open:  open,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
}

// NewLineSourceFromReader wraps an already open reader.
func NewLineSourceFromReader(r io.Reader) *LineSource {
	return NewLineSource(func() (io.ReadCloser, error) { return io.NopCloser(r), nil })
}

func (s *LineSource) Open(_ context.Context) error {
	rc, err := s.open()
	if err != nil {
		return fmt.Errorf("audio: open input: %w", err)
	}
	s.rc = rc
	go s.scan()
	return nil
}

func (s *LineSource) scan() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.rc)
	for scanner.Scan() {
		select {
		case s.lines <- strings.TrimSpace(scanner.Text()):
		case <-s.done:
			return
		}
	}
	s.mu.Lock()
	s.scanErr = scanner.Err()
	s.mu.Unlock()
}

// Calibrate is a no-op; there is no ambient noise in text.
func (s *LineSource) Calibrate(context.Context, time.Duration) error {
	return nil
}

func (s *LineSource) Next(ctx context.Context, maxWait, _ time.Duration) (Segment, error) {
	wait := time.NewTimer(maxWait)
	defer wait.Stop()

	select {
	case <-ctx.Done():
		return Segment{}, ctx.Err()
	case <-wait.C:
		return Segment{}, ErrWaitTimeout
	case line, ok := <-s.lines:
		if !ok {
			s.mu.Lock()
			err := s.scanErr
			s.mu.Unlock()
			if err != nil {
				return Segment{}, err
			}
			return Segment{}, ErrEndOfStream
		}
		return Segment{Transcript: line, CapturedAt: time.Now()}, nil
	}
}

func (s *LineSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.rc != nil {
			err = s.rc.Close()
		}
	})
	return err
}
