package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
)

// statusLine prints transcript entries as they arrive and keeps an elapsed
// clock on the line below them.
type statusLine struct {
	mu    sync.Mutex
	w     io.Writer
	clock string
}

func newStatusLine(w io.Writer) *statusLine {
	return &statusLine{w: w}
}

// Entry prints one finalized transcript entry above the clock.
func (s *statusLine) Entry(e exam.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r\033[K%s: %s\n", e.Role.Label(), e.Text)
	if s.clock != "" {
		fmt.Fprint(s.w, s.clock)
	}
}

// Clock redraws the elapsed time.
func (s *statusLine) Clock(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = "[" + formatClock(d) + "]"
	fmt.Fprintf(s.w, "\r\033[K%s", s.clock)
}

// Clear removes the clock line.
func (s *statusLine) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock != "" {
		fmt.Fprint(s.w, "\r\033[K")
		s.clock = ""
	}
}

// formatClock renders d as m:ss.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// printReport writes the graded result in a human-readable layout.
func printReport(w io.Writer, r *exam.AssessmentResult) {
	fmt.Fprintln(w, "──────────── Assessment report ────────────")
	fmt.Fprintf(w, "Student:         %s\n", r.StudentName)
	fmt.Fprintf(w, "Duration:        %s\n", formatClock(time.Duration(r.DurationSeconds)*time.Second))
	fmt.Fprintf(w, "Predicted grade: %s\n", r.PredictedGrade)
	fmt.Fprintf(w, "Pauses:          %d\n", r.PauseCount)
	fmt.Fprintf(w, "Filler words:    %d", r.TotalFillerCount)
	if len(r.FillerWords) > 0 {
		keys := make([]string, 0, len(r.FillerWords))
		for k := range r.FillerWords {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, r.FillerWords[k]))
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Feedback:")
	fmt.Fprintln(w, strings.TrimSpace(r.Feedback))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Transcript (%d entries):\n", len(r.Transcript))
	for _, e := range r.Transcript {
		fmt.Fprintf(w, "  %s: %s\n", e.Role.Label(), e.Text)
	}
}
