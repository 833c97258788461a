package exam

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these to classify a failure returned by
// [Session.Start] or [Session.Finish].
var (
	// ErrDevice reports that the microphone or speaker could not be acquired,
	// including a denied permission prompt.
	ErrDevice = errors.New("audio device unavailable")

	// ErrTransport reports that the agent stream failed to open or ended
	// before it was ready.
	ErrTransport = errors.New("agent transport failed")

	// ErrAnalysis reports that the post-session analysis call failed. The
	// session is still fully torn down when it is returned.
	ErrAnalysis = errors.New("analysis failed")

	// ErrShutdownRace marks a teardown step that failed because its resource
	// was already released. It is logged, never returned to callers.
	ErrShutdownRace = errors.New("resource already released")
)

var (
	// ErrNotStarted is returned by Finish on a session that was never started.
	ErrNotStarted = errors.New("exam: session not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("exam: session already started")

	// ErrClosed is returned by Start when Finish ran before the session
	// became active.
	ErrClosed = errors.New("exam: session closed")
)

// Error describes a failed session operation. Kind is one of the error kinds
// above; Err is the underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exam: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("exam: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
