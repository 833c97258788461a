package results

import (
	"context"
	"slices"
	"sync"

	"github.com/echolabs/oralexam/internal/exam"
)

// Memory is a [Store] that keeps results in process memory.
type Memory struct {
	mu      sync.Mutex
	results []exam.AssessmentResult
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save implements [Saver].
func (m *Memory) Save(_ context.Context, r *exam.AssessmentResult) error {
	if err := Validate(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, clone(*r))
	return nil
}

// List implements [Store].
func (m *Memory) List(_ context.Context, assessmentID string) ([]exam.AssessmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.results, assessmentID), nil
}

// newestFirst filters rs by assessmentID and reverses insertion order.
func newestFirst(rs []exam.AssessmentResult, assessmentID string) []exam.AssessmentResult {
	out := make([]exam.AssessmentResult, 0, len(rs))
	for i := len(rs) - 1; i >= 0; i-- {
		if assessmentID == "" || rs[i].AssessmentID == assessmentID {
			out = append(out, clone(rs[i]))
		}
	}
	return out
}

// clone copies the slices and maps of r so callers cannot alias stored data.
func clone(r exam.AssessmentResult) exam.AssessmentResult {
	r.Transcript = slices.Clone(r.Transcript)
	if r.FillerWords != nil {
		fw := make(map[string]int, len(r.FillerWords))
		for k, v := range r.FillerWords {
			fw[k] = v
		}
		r.FillerWords = fw
	}
	return r
}
