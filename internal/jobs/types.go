package jobs

import (
	"time"

	"github.com/MimeLyc/livesub/internal/export"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	// StatusPartial means the document went out but some recipients failed.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	// StatusSkipped means there was nobody to deliver to.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no more work will happen for a job in s.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusRunning
}

type EnqueueRequest struct {
	Source    string
	DedupeKey string
	Payload   JobPayload
}

// JobPayload describes one export-and-notify run for a session.
type JobPayload struct {
	SessionID  string   `json:"session_id"`
	Recipients []string `json:"recipients"`
	// Closing appends the session ended paragraph to the document.
	Closing bool `json:"closing"`
}

type DeliveryJob struct {
	ID        string                  `json:"id"`
	Source    string                  `json:"source"`
	DedupeKey string                  `json:"dedupe_key"`
	Payload   JobPayload              `json:"payload"`
	Status    Status                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Document  string                  `json:"document,omitempty"`
	Results   []export.DeliveryResult `json:"results,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Outcome is what an Executor reports for a finished job.
type Outcome struct {
	Document string
	Results  []export.DeliveryResult
}

// status derives the terminal status of a run that returned no error.
func (o Outcome) status() Status {
	if len(o.Results) == 0 {
		return StatusSkipped
	}
	sent := 0
	for _, r := range o.Results {
		if r.Status == export.StatusSent {
			sent++
		}
	}
	switch sent {
	case len(o.Results):
		return StatusSuccess
	case 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
