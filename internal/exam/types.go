// Package exam runs one live oral examination: it streams the student's
// microphone to a conversational voice agent, plays the agent's spoken
// replies back without gaps, folds the streamed transcript fragments into
// whole turns, and on finish hands the transcript to an [Analyzer] for a
// graded report.
//
// A [Session] moves strictly forward through its states:
//
//	Idle → Connecting → Active → Finishing → Closed
//
// Any state may jump straight to Closed when a device or the transport fails
// during Start. Finish is idempotent and safe to call from any goroutine.
package exam

import (
	"context"
	"time"
)

// Role identifies who spoke a transcript entry.
type Role string

const (
	// RoleStudent is the human being examined.
	RoleStudent Role = "student"
	// RoleAgent is the AI examiner.
	RoleAgent Role = "agent"
)

// Label returns the speaker label used in rendered transcripts.
func (r Role) Label() string {
	if r == RoleAgent {
		return "AI Assessor"
	}
	return "Student"
}

// TranscriptEntry is one finalized turn of speech.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the lifecycle state of a [Session].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateFinishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TurnOrder decides which role's buffer is flushed first when a single
// turn-complete marker finalizes both.
type TurnOrder int

const (
	// StudentFirst emits the student's answer before the agent's reply.
	StudentFirst TurnOrder = iota
	// AgentFirst emits the agent's reply before the student's answer.
	AgentFirst
)

// Assessment is the material an exam is built on.
type Assessment struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Code      string    `json:"code" yaml:"code"`
	Notes     string    `json:"notes" yaml:"notes"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// AnalysisRequest is the input to an [Analyzer].
type AnalysisRequest struct {
	Transcript        []TranscriptEntry
	ReferenceMaterial string
	Duration          time.Duration
}

// Analysis is the structured report produced by an [Analyzer].
type Analysis struct {
	PredictedGrade   string         `json:"predictedGrade"`
	FillerWords      map[string]int `json:"fillerWords"`
	TotalFillerCount int            `json:"totalFillerCount"`
	PauseCount       int            `json:"pauseCount"`
	Feedback         string         `json:"feedback"`
}

// Analyzer turns a finished transcript into an [Analysis].
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// AnalyzerFunc adapts a plain function to the [Analyzer] interface.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) (*Analysis, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	return f(ctx, req)
}

// AssessmentResult is the record produced by a completed session.
type AssessmentResult struct {
	ID               string            `json:"id"`
	AssessmentID     string            `json:"assessmentId"`
	StudentName      string            `json:"studentName"`
	Transcript       []TranscriptEntry `json:"transcript"`
	FillerWords      map[string]int    `json:"fillerWords"`
	TotalFillerCount int               `json:"totalFillerCount"`
	PauseCount       int               `json:"pauseCount"`
	PredictedGrade   string            `json:"predictedGrade"`
	Feedback         string            `json:"feedback"`
	DurationSeconds  int               `json:"durationSeconds"`
	CompletedAt      time.Time         `json:"completedAt"`
}
