// Package session holds the data of one live captioning session: the active
// language pair and the ordered transcript.
package session

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/text/language"
)

// Line is one published utterance. Lines are immutable once appended.
type Line struct {
	Recognized string       `json:"recognized"`
	Translated string       `json:"translated"`
	Timestamp  time.Time    `json:"timestamp"`
	Pair       LanguagePair `json:"pair"`
	// DetectedLanguage is a best-effort guess at what was actually spoken;
	// language.Und when unsure.
	DetectedLanguage language.Tag `json:"detected_language"`
}

// Snapshot is a point-in-time copy of a State for presentation.
type Snapshot struct {
	ID        string       `json:"id"`
	Pair      LanguagePair `json:"pair"`
	Running   bool         `json:"running"`
	StartedAt time.Time    `json:"started_at"`
	Lines     []Line       `json:"lines"`
}

// State is the live session. Only the pipeline loop mutates it; any goroutine
// may read a Snapshot.
type State struct {
	mu        sync.RWMutex
	id        string
	pair      LanguagePair
	running   bool
	startedAt time.Time
	lines     []Line
}

// NewID returns a sortable unique session id.
func NewID() string {
	return xid.New().String()
}

func NewState(id string, pair LanguagePair) *State {
	if id == "" {
		id = NewID()
	}
	return &State{id: id, pair: pair, startedAt: time.Now()}
}

func (s *State) ID() string {
	return s.id
}

func (s *State) Pair() LanguagePair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *State) SetPair(p LanguagePair) {
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
}

func (s *State) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *State) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// Append adds l to the end of the transcript and returns its index.
func (s *State) Append(l Line) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
	return len(s.lines) - 1
}

// Restore prepends lines persisted by an earlier run of the same session.
// It must be called before the loop starts.
func (s *State) Restore(lines []Line) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := make([]Line, 0, len(lines)+len(s.lines))
	restored = append(restored, lines...)
	s.lines = append(restored, s.lines...)
	if first := lines[0].Timestamp; !first.IsZero() && first.Before(s.startedAt) {
		s.startedAt = first
	}
}

// Lines returns a copy of the transcript in chronological order.
func (s *State) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]Line, len(s.lines))
	copy(ret, s.lines)
	return ret
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines := make([]Line, len(s.lines))
	copy(lines, s.lines)
	return Snapshot{
		ID:        s.id,
		Pair:      s.pair,
		Running:   s.running,
		StartedAt: s.startedAt,
		Lines:     lines,
	}
}
