package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/livesub/internal/export"
	"github.com/MimeLyc/livesub/internal/jobs"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/pkg/icron"
	"github.com/MimeLyc/livesub/pkg/log"
)

// deliver is the jobs.Executor: export the session transcript, then mail it.
func (s *Service) deliver(ctx context.Context, job *jobs.DeliveryJob) (jobs.Outcome, error) {
	lines, err := s.transcriptOf(ctx, job.Payload.SessionID)
	if err != nil {
		return jobs.Outcome{}, err
	}

	var opts []export.BuildOption
	if job.Payload.Closing {
		opts = append(opts, export.WithClosing())
	}
	art, err := s.exporter.Export(ctx, export.Build(lines, opts...))
	if err != nil {
		return jobs.Outcome{}, WrapError(err, ErrExport, "failed to export document").WithContext("job", job.ID)
	}
	s.metrics.RecordExport(ctx, job.Source)

	if len(job.Payload.Recipients) == 0 {
		log.Warn("No recipients configured, %s was not mailed", art.Path)
		return jobs.Outcome{Document: art.Path}, nil
	}
	results := s.notifier.Notify(ctx, art, job.Payload.Recipients)
	for _, r := range results {
		if r.Status != export.StatusSent {
			log.Warn("Delivery of %s to %s failed: %s", art.Name, r.Recipient, r.Reason)
		}
	}
	return jobs.Outcome{Document: art.Path, Results: results}, nil
}

// transcriptOf returns the live transcript for the current session and the
// stored one for sessions recovered from an earlier run.
func (s *Service) transcriptOf(ctx context.Context, sessionID string) ([]session.Line, error) {
	if sessionID == s.state.ID() {
		return s.state.Lines(), nil
	}
	if s.store == nil {
		return nil, NewError(ErrStorage, "no store to load the transcript from").WithContext("session", sessionID)
	}
	lines, err := s.store.LoadLines(ctx, sessionID)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "failed to load transcript").WithContext("session", sessionID)
	}
	return lines, nil
}

// scheduleSnapshots registers the EXPORT_CRON job, which rewrites the export
// file with the transcript so far and mails nothing. Run starts the schedule.
func (s *Service) scheduleSnapshots() error {
	expr := s.cfg.Output.ExportCron
	if expr == "" {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(expr, s.runSnapshot); err != nil {
		return WrapError(err, ErrConfig, "invalid export schedule").WithContext("cron", expr)
	}
	if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
		log.Info("Snapshot export scheduled (%s), next at %s", expr, info.Next.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) runSnapshot() {
	_, _, _ = s.snapshots.Do("snapshot", func() (any, error) {
		art, err := s.Snapshot(s.workerCtx)
		if err != nil {
			Report(err)
			return nil, err
		}
		return art, nil
	})
}

// Snapshot writes the export file from the transcript so far. The closing
// paragraph is not added.
func (s *Service) Snapshot(ctx context.Context) (export.Artifact, error) {
	lines := s.state.Lines()
	if len(lines) == 0 {
		return export.Artifact{}, NewError(ErrExport, "transcript is empty")
	}
	art, err := s.exporter.Export(ctx, export.Build(lines))
	if err != nil {
		return export.Artifact{}, WrapError(err, ErrExport, fmt.Sprintf("failed to export %d lines", len(lines)))
	}
	s.metrics.RecordExport(ctx, SourceSnapshot)
	return art, nil
}
