package audio

import (
	"fmt"
	"time"
)

// AudioFrame represents a single frame of audio flowing through a session.
// Frames are the atomic unit of capture, transport and playback scheduling.
// A frame is produced once (by a capture device or a transport) and consumed
// exactly once; consumers must not retain or mutate Samples afterwards.
type AudioFrame struct {
	// Samples holds interleaved PCM samples normalised to [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for microphone capture, 24000 for agent speech).
	SampleRate int

	// Channels is the number of interleaved channels. Sessions are mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Frames returns the number of sample frames (samples per channel).
func (f AudioFrame) Frames() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the playback duration of the frame. A frame with an
// invalid sample rate has zero duration.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(f.Frames()) * int64(time.Second) / int64(f.SampleRate))
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the capture format expected by the remote agent.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// Mono24k is the format of synthesised agent speech.
var Mono24k = Format{SampleRate: 24000, Channels: 1}

// Validate reports whether the format is usable.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	return nil
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
