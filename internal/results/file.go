package results

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/echolabs/oralexam/internal/exam"
)

// FileStore persists results as JSON lines in a local file, one result per
// line, appended in completion order.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends r to the file.
func (s *FileStore) Save(_ context.Context, r *exam.AssessmentResult) error {
	if err := Validate(r); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("results: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("results: close file: %w", err)
	}
	return nil
}

// List reads the file and returns matching results, newest first. A missing
// file is an empty history.
func (s *FileStore) List(ctx context.Context, assessmentID string) ([]exam.AssessmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []exam.AssessmentResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("results: open file: %w", err)
	}
	defer f.Close()

	var all []exam.AssessmentResult
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r exam.AssessmentResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("results: %s line %d: %w", s.path, line, err)
		}
		all = append(all, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("results: read: %w", err)
	}
	return newestFirst(all, assessmentID), nil
}
