package persistence

import (
	"time"

	"github.com/MimeLyc/livesub/internal/session"
)

// SessionRecord is a stored session header. Lines are loaded separately.
type SessionRecord struct {
	ID        string
	Pair      session.LanguagePair
	StartedAt time.Time
	UpdatedAt time.Time
	// EndedAt is zero while the session can still be resumed.
	EndedAt time.Time
}

// Ended reports whether the session was closed with an explicit end.
func (r SessionRecord) Ended() bool {
	return !r.EndedAt.IsZero()
}
