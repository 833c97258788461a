package exam

import (
	"strings"
	"sync"
	"time"
)

// Aggregator folds streamed transcript fragments into finalized entries.
//
// Fragments are concatenated verbatim per role, without trimming or inserting
// separators. A turn-complete marker flushes each non-empty buffer into one
// entry, in the configured [TurnOrder], and clears it. Fragments that never
// see a turn-complete marker are dropped.
//
// All methods are safe for concurrent use.
type Aggregator struct {
	order TurnOrder

	mu      sync.Mutex
	student strings.Builder
	agent   strings.Builder
	entries []TranscriptEntry
}

// NewAggregator returns an empty Aggregator that flushes in the given order.
func NewAggregator(order TurnOrder) *Aggregator {
	return &Aggregator{order: order}
}

// Append adds a fragment to role's pending buffer.
func (a *Aggregator) Append(role Role, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer(role).WriteString(text)
}

// Complete finalizes the pending buffers as of at and returns the entries it
// appended (zero, one or two).
func (a *Aggregator) Complete(at time.Time) []TranscriptEntry {
	roles := [2]Role{RoleStudent, RoleAgent}
	if a.order == AgentFirst {
		roles = [2]Role{RoleAgent, RoleStudent}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []TranscriptEntry
	for _, role := range roles {
		b := a.buffer(role)
		if b.Len() == 0 {
			continue
		}
		e := TranscriptEntry{Role: role, Text: b.String(), Timestamp: at}
		b.Reset()
		a.entries = append(a.entries, e)
		out = append(out, e)
	}
	return out
}

// Pending returns role's unflushed text.
func (a *Aggregator) Pending(role Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer(role).String()
}

// Entries returns a copy of the finalized transcript.
func (a *Aggregator) Entries() []TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of finalized entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// buffer must be called with a.mu held.
func (a *Aggregator) buffer(role Role) *strings.Builder {
	if role == RoleAgent {
		return &a.agent
	}
	return &a.student
}
