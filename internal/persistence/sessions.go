package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/sink"
)

// UpsertSession records a session header, updating the language pair of an
// existing row. started_at of an existing row is kept.
func (s *SQLiteStore) UpsertSession(ctx context.Context, id string, pair session.LanguagePair, startedAt time.Time) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()
	if startedAt.IsZero() {
		startedAt = now
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, source_language, target_language, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source_language = excluded.source_language,
		   target_language = excluded.target_language,
		   updated_at = excluded.updated_at`,
		id,
		pair.Source.String(),
		pair.Target.String(),
		startedAt.UTC(),
		now,
	)
	return err
}

// EndSession marks a session as ended so it is no longer offered for resume.
func (s *SQLiteStore) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// LoadSession returns the stored header for id.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_language, target_language, started_at, updated_at, ended_at
		 FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// LatestOpenSession returns the most recently updated session that was never
// ended.
func (s *SQLiteStore) LatestOpenSession(ctx context.Context) (SessionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_language, target_language, started_at, updated_at, ended_at
		 FROM sessions WHERE ended_at IS NULL
		 ORDER BY updated_at DESC LIMIT 1`)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

func scanSession(row *sql.Row) (SessionRecord, error) {
	var (
		rec      SessionRecord
		src, tgt string
		ended    sql.NullTime
	)
	if err := row.Scan(&rec.ID, &src, &tgt, &rec.StartedAt, &rec.UpdatedAt, &ended); err != nil {
		return SessionRecord{}, err
	}
	rec.Pair = session.LanguagePair{Source: parseTag(src), Target: parseTag(tgt)}
	if ended.Valid {
		rec.EndedAt = ended.Time
	}
	return rec, nil
}

// AppendLine stores one published line at the end of the session transcript.
func (s *SQLiteStore) AppendLine(ctx context.Context, sessionID string, line session.Line) error {
	ts := line.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	detected := ""
	if line.DetectedLanguage != language.Und {
		detected = line.DetectedLanguage.String()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transcript_lines (session_id, recognized, translated, source_language, target_language, detected_language, spoken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		line.Recognized,
		line.Translated,
		line.Pair.Source.String(),
		line.Pair.Target.String(),
		detected,
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append line to session %s: %w", sessionID, err)
	}
	return nil
}

// LoadLines returns the transcript of a session in publish order.
func (s *SQLiteStore) LoadLines(ctx context.Context, sessionID string) ([]session.Line, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT recognized, translated, source_language, target_language, detected_language, spoken_at
		 FROM transcript_lines
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]session.Line, 0)
	for rows.Next() {
		var (
			line               session.Line
			src, tgt, detected string
		)
		if err := rows.Scan(&line.Recognized, &line.Translated, &src, &tgt, &detected, &line.Timestamp); err != nil {
			return nil, err
		}
		line.Pair = session.LanguagePair{Source: parseTag(src), Target: parseTag(tgt)}
		line.DetectedLanguage = parseTag(detected)
		ret = append(ret, line)
	}
	return ret, rows.Err()
}

// TranscriptSink returns a sink.LineSink that appends to the transcript of
// sessionID.
func (s *SQLiteStore) TranscriptSink(sessionID string) *TranscriptSink {
	return &TranscriptSink{store: s, sessionID: sessionID, timeout: 5 * time.Second}
}

// TranscriptSink adapts SQLiteStore.AppendLine to the pipeline's line sinks.
type TranscriptSink struct {
	store     *SQLiteStore
	sessionID string
	timeout   time.Duration
}

var _ sink.LineSink = (*TranscriptSink)(nil)

func (t *TranscriptSink) Append(line session.Line) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.store.AppendLine(ctx, t.sessionID, line)
}

func parseTag(s string) language.Tag {
	if s == "" {
		return language.Und
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}
