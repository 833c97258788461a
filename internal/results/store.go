// Package results persists finished exams.
//
// A [Store] keeps [exam.AssessmentResult] records and lists them newest
// first. The package ships a JSON-lines [FileStore], an in-memory [Memory]
// store and a [Webhook] that forwards each result to an HTTP endpoint;
// results/postgres provides the PostgreSQL store. [Fanout] saves to several
// destinations at once.
package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/echolabs/oralexam/internal/exam"
)

// ErrInvalidResult is returned by Save for a nil result or one without an ID.
var ErrInvalidResult = errors.New("results: invalid result")

// Saver accepts finished results.
type Saver interface {
	Save(ctx context.Context, r *exam.AssessmentResult) error
}

// Store is a [Saver] that can also list what it saved.
type Store interface {
	Saver

	// List returns the results for assessmentID, newest first. An empty
	// assessmentID lists every result.
	List(ctx context.Context, assessmentID string) ([]exam.AssessmentResult, error)
}

// Validate reports whether r can be saved.
func Validate(r *exam.AssessmentResult) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil", ErrInvalidResult)
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidResult)
	case r.AssessmentID == "":
		return fmt.Errorf("%w: missing assessment id", ErrInvalidResult)
	}
	return nil
}

// fanout saves to every destination.
type fanout []Saver

// Fanout returns a Saver that saves to each of savers in order. Every
// destination is attempted; failures are joined.
func Fanout(savers ...Saver) Saver {
	return fanout(savers)
}

func (f fanout) Save(ctx context.Context, r *exam.AssessmentResult) error {
	var errs []error
	for _, s := range f {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
