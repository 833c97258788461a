// Package postgres stores assessment results in PostgreSQL.
//
// Transcripts and filler counts are kept as JSONB next to the scalar report
// fields, so a result round-trips without a second table.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, result)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/results"
)

var _ results.Store = (*Store)(nil)

// Store is a [results.Store] backed by a [pgxpool.Pool]. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("results postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("results postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("results postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements [results.Saver]. Saving the same ID twice replaces the row.
func (s *Store) Save(ctx context.Context, r *exam.AssessmentResult) error {
	if err := results.Validate(r); err != nil {
		return err
	}
	transcript, err := json.Marshal(nonNilTranscript(r.Transcript))
	if err != nil {
		return fmt.Errorf("results postgres: marshal transcript: %w", err)
	}
	fillers, err := json.Marshal(nonNilFillers(r.FillerWords))
	if err != nil {
		return fmt.Errorf("results postgres: marshal filler words: %w", err)
	}

	const q = `
		INSERT INTO assessment_results
		    (id, assessment_id, student_name, transcript, filler_words, total_filler_count,
		     pause_count, predicted_grade, feedback, duration_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    assessment_id      = EXCLUDED.assessment_id,
		    student_name       = EXCLUDED.student_name,
		    transcript         = EXCLUDED.transcript,
		    filler_words       = EXCLUDED.filler_words,
		    total_filler_count = EXCLUDED.total_filler_count,
		    pause_count        = EXCLUDED.pause_count,
		    predicted_grade    = EXCLUDED.predicted_grade,
		    feedback           = EXCLUDED.feedback,
		    duration_seconds   = EXCLUDED.duration_seconds,
		    completed_at       = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, q,
		r.ID,
		r.AssessmentID,
		r.StudentName,
		transcript,
		fillers,
		r.TotalFillerCount,
		r.PauseCount,
		r.PredictedGrade,
		r.Feedback,
		r.DurationSeconds,
		r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("results postgres: save: %w", err)
	}
	return nil
}

// List implements [results.Store].
func (s *Store) List(ctx context.Context, assessmentID string) ([]exam.AssessmentResult, error) {
	const cols = `id, assessment_id, student_name, transcript, filler_words, total_filler_count,
		       pause_count, predicted_grade, feedback, duration_seconds, completed_at`

	var (
		rows pgx.Rows
		err  error
	)
	if assessmentID == "" {
		rows, err = s.pool.Query(ctx, "SELECT "+cols+" FROM assessment_results ORDER BY completed_at DESC")
	} else {
		rows, err = s.pool.Query(ctx, "SELECT "+cols+" FROM assessment_results WHERE assessment_id = $1 ORDER BY completed_at DESC", assessmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("results postgres: list: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (exam.AssessmentResult, error) {
		var (
			r                   exam.AssessmentResult
			transcript, fillers []byte
		)
		if err := row.Scan(
			&r.ID,
			&r.AssessmentID,
			&r.StudentName,
			&transcript,
			&fillers,
			&r.TotalFillerCount,
			&r.PauseCount,
			&r.PredictedGrade,
			&r.Feedback,
			&r.DurationSeconds,
			&r.CompletedAt,
		); err != nil {
			return r, err
		}
		if err := json.Unmarshal(transcript, &r.Transcript); err != nil {
			return r, fmt.Errorf("decode transcript: %w", err)
		}
		if err := json.Unmarshal(fillers, &r.FillerWords); err != nil {
			return r, fmt.Errorf("decode filler words: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("results postgres: list: %w", err)
	}
	return out, nil
}

func nonNilTranscript(t []exam.TranscriptEntry) []exam.TranscriptEntry {
	if t == nil {
		return []exam.TranscriptEntry{}
	}
	return t
}

func nonNilFillers(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
