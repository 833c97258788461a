package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlResults = `
CREATE TABLE IF NOT EXISTS assessment_results (
    id                 TEXT         PRIMARY KEY,
    assessment_id      TEXT         NOT NULL,
    student_name       TEXT         NOT NULL DEFAULT '',
    transcript         JSONB        NOT NULL DEFAULT '[]',
    filler_words       JSONB        NOT NULL DEFAULT '{}',
    total_filler_count INTEGER      NOT NULL DEFAULT 0,
    pause_count        INTEGER      NOT NULL DEFAULT 0,
    predicted_grade    TEXT         NOT NULL DEFAULT '',
    feedback           TEXT         NOT NULL DEFAULT '',
    duration_seconds   INTEGER      NOT NULL DEFAULT 0,
    completed_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_assessment_results_assessment_completed
    ON assessment_results (assessment_id, completed_at DESC);

CREATE INDEX IF NOT EXISTS idx_assessment_results_completed
    ON assessment_results (completed_at DESC);
`

// Migrate creates the results table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlResults); err != nil {
		return fmt.Errorf("migrate: assessment_results: %w", err)
	}
	return nil
}
