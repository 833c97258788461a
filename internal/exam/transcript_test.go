package exam_test

import (
	"testing"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestAggregator_ConcatenatesVerbatim(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	a.Append(exam.RoleAgent, "um ")
	a.Append(exam.RoleAgent, "I think")

	got := a.Complete(t0)
	if len(got) != 1 {
		t.Fatalf("Complete returned %d entries, want 1", len(got))
	}
	if got[0].Role != exam.RoleAgent || got[0].Text != "um I think" {
		t.Errorf("entry = %+v, want agent %q", got[0], "um I think")
	}
	if !got[0].Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, t0)
	}
	if a.Pending(exam.RoleAgent) != "" {
		t.Error("agent buffer not cleared after Complete")
	}
}

func TestAggregator_PreservesWhitespace(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	a.Append(exam.RoleStudent, "  uh, ")
	a.Append(exam.RoleStudent, "chlorophyll ")

	got := a.Complete(t0)
	if len(got) != 1 || got[0].Text != "  uh, chlorophyll " {
		t.Errorf("entries = %+v, want untrimmed text", got)
	}
}

func TestAggregator_TurnOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		order exam.TurnOrder
		want  []exam.Role
	}{
		{"student first", exam.StudentFirst, []exam.Role{exam.RoleStudent, exam.RoleAgent}},
		{"agent first", exam.AgentFirst, []exam.Role{exam.RoleAgent, exam.RoleStudent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := exam.NewAggregator(tt.order)
			a.Append(exam.RoleAgent, "Why?")
			a.Append(exam.RoleStudent, "Because.")

			got := a.Complete(t0)
			if len(got) != 2 {
				t.Fatalf("Complete returned %d entries, want 2", len(got))
			}
			for i, role := range tt.want {
				if got[i].Role != role {
					t.Errorf("entry %d role = %s, want %s", i, got[i].Role, role)
				}
			}
		})
	}
}

func TestAggregator_EmptyBuffersEmitNothing(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	if got := a.Complete(t0); len(got) != 0 {
		t.Errorf("Complete on empty buffers = %+v, want none", got)
	}
	a.Append(exam.RoleStudent, "")
	if got := a.Complete(t0); len(got) != 0 {
		t.Errorf("empty fragment produced entries %+v", got)
	}
	if a.Len() != 0 {
		t.Errorf("Len = %d, want 0", a.Len())
	}
}

func TestAggregator_AtMostTwoEntriesPerMarker(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	for i := range 5 {
		a.Append(exam.RoleStudent, "s")
		a.Append(exam.RoleAgent, "a")
		if got := a.Complete(t0.Add(time.Duration(i) * time.Second)); len(got) > 2 {
			t.Fatalf("marker %d appended %d entries", i, len(got))
		}
	}
	if a.Len() != 10 {
		t.Errorf("Len = %d, want 10", a.Len())
	}
}

func TestAggregator_UnfinishedFragmentsStayPending(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	a.Append(exam.RoleStudent, "I was about to")
	if a.Len() != 0 {
		t.Fatal("fragment finalized without a turn-complete marker")
	}
	if got := a.Pending(exam.RoleStudent); got != "I was about to" {
		t.Errorf("Pending = %q", got)
	}
}

func TestAggregator_EntriesIsCopy(t *testing.T) {
	t.Parallel()

	a := exam.NewAggregator(exam.StudentFirst)
	a.Append(exam.RoleStudent, "first")
	a.Complete(t0)

	snap := a.Entries()
	snap[0].Text = "mutated"
	if a.Entries()[0].Text != "first" {
		t.Error("mutating a snapshot changed the aggregator")
	}
}
