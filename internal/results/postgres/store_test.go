package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/results/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if ORALEXAM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ORALEXAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORALEXAM_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS assessment_results"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		assessment := "bio"
		if id == "r2" {
			assessment = "chem"
		}
		err := s.Save(ctx, &exam.AssessmentResult{
			ID:           id,
			AssessmentID: assessment,
			StudentName:  "Grace",
			Transcript: []exam.TranscriptEntry{
				{Role: exam.RoleStudent, Text: "Um, ATP.", Timestamp: t0},
			},
			FillerWords:     map[string]int{"um": 1},
			PredictedGrade:  "B",
			DurationSeconds: 60 * (i + 1),
			CompletedAt:     t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	got, err := s.List(ctx, "bio")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "r3" || got[1].ID != "r1" {
		t.Fatalf("List(bio) = %+v, want r3, r1", got)
	}
	if got[0].Transcript[0].Text != "Um, ATP." || got[0].FillerWords["um"] != 1 {
		t.Errorf("JSON columns did not round-trip: %+v", got[0])
	}
	if !got[0].CompletedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("CompletedAt = %v", got[0].CompletedAt)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("List(all) = %d results, want 3", len(all))
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &exam.AssessmentResult{ID: "r1", AssessmentID: "bio", PredictedGrade: "C", CompletedAt: time.Now()}
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.PredictedGrade = "A"
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "bio")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PredictedGrade != "A" {
		t.Errorf("List = %+v, want a single updated row", got)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
