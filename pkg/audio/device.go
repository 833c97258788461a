// Package audio defines the frame type, the PCM wire codec and the device
// abstractions used by an exam session.
//
// The two device abstractions are:
//
//   - [InputDevice]: acquires the microphone and returns a [CaptureStream]
//     that delivers fixed-size frames once started.
//   - [OutputDevice]: opens the speaker and returns an [OutputStream] that
//     plays frames at absolute positions on its own monotonic clock.
//
// Implementations live in sub-packages: audio/capture (malgo), audio/playback (oto)
// and audio/mock (deterministic test doubles).
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by [InputDevice.Open] when the platform
// refuses microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// FrameFunc receives one captured frame. It is invoked from the device's
// real-time callback and must return quickly.
type FrameFunc func(AudioFrame)

// InputDevice acquires a capture device.
type InputDevice interface {
	// Open acquires the microphone at the given format. No frames are
	// delivered until [CaptureStream.Start] is called.
	Open(ctx context.Context, format Format) (CaptureStream, error)
}

// CaptureStream is an acquired microphone.
type CaptureStream interface {
	// Start begins delivering frames of exactly frameSize samples to fn.
	Start(frameSize int, fn FrameFunc) error

	// Close disconnects fn synchronously and then releases the device. Once
	// Close returns no further call to fn is made. Close is idempotent.
	Close() error
}

// OutputDevice opens a playback device.
type OutputDevice interface {
	Open(ctx context.Context, format Format) (OutputStream, error)
}

// OutputStream plays frames at absolute positions on the device clock.
type OutputStream interface {
	// Now returns the current position of the output clock. The clock starts
	// at zero when the stream is opened and never decreases.
	Now() time.Duration

	// Schedule queues frame to begin playing exactly at the clock position
	// at (or immediately when at is in the past). onEnded, when non-nil, is
	// invoked once after the frame has fully played. It is never invoked
	// synchronously from Schedule or [Voice.Stop], and never for a stopped voice.
	Schedule(frame AudioFrame, at time.Duration, onEnded func()) (Voice, error)

	// Close stops all playback and releases the device. Close is idempotent.
	Close() error
}

// Voice is one scheduled frame.
type Voice interface {
	// Stop silences the frame immediately, whether it has started or not.
	Stop()
}
