package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/livesub/internal/export"
	"github.com/MimeLyc/livesub/internal/jobs"
)

var _ jobs.Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.DeliveryJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source, dedupe_key, payload_json, status, error, document, results_json, created_at, updated_at
		 FROM delivery_jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.DeliveryJob, 0)
	for rows.Next() {
		var (
			job         jobs.DeliveryJob
			status      string
			payloadJSON string
			resultsJSON string
		)
		if err := rows.Scan(
			&job.ID,
			&job.Source,
			&job.DedupeKey,
			&payloadJSON,
			&status,
			&job.Error,
			&job.Document,
			&resultsJSON,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadJSON), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", job.ID, err)
		}
		var results []export.DeliveryResult
		if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
			return nil, fmt.Errorf("decode results of job %s: %w", job.ID, err)
		}
		if len(results) > 0 {
			job.Results = results
		}
		job.Status = jobs.Status(status)
		ret = append(ret, &job)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.DeliveryJob) error {
	if job == nil {
		return nil
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	results := job.Results
	if results == nil {
		results = []export.DeliveryResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO delivery_jobs (id, source, dedupe_key, payload_json, status, error, document, results_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source = excluded.source,
		   dedupe_key = excluded.dedupe_key,
		   payload_json = excluded.payload_json,
		   status = excluded.status,
		   error = excluded.error,
		   document = excluded.document,
		   results_json = excluded.results_json,
		   updated_at = excluded.updated_at`,
		job.ID,
		job.Source,
		job.DedupeKey,
		string(payload),
		string(job.Status),
		job.Error,
		job.Document,
		string(resultsJSON),
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delivery_jobs WHERE id = ?`, jobID)
	return err
}
