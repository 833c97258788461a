// Package mock provides deterministic in-memory implementations of the
// [audio.InputDevice] and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. The capture mock lets a test push
// frames through the registered callback as the device thread would; the
// output mock runs on a virtual clock that only moves when the test calls
// [OutputStream.Advance].
//
// Typical usage:
//
//	in := &mock.InputDevice{}
//	out := &mock.OutputDevice{}
//	// ... start a session using in and out ...
//	in.Stream(0).Emit(make([]float32, 4096))
//	out.Stream(0).Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/echolabs/oralexam/pkg/audio"
)

// ErrClosed is returned by mock streams that are used after Close.
var ErrClosed = errors.New("mock: stream closed")

// ─── InputDevice ──────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// StartErr is returned by every opened stream's Start when non-nil.
	StartErr error

	// CloseErr is returned by every opened stream's Close when non-nil.
	CloseErr error

	// OpenDelay delays Open, emulating a permission prompt.
	OpenDelay time.Duration

	streams []*CaptureStream
}

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(ctx context.Context, format audio.Format) (audio.CaptureStream, error) {
	d.mu.Lock()
	delay, openErr := d.OpenDelay, d.OpenErr
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s := &CaptureStream{format: format, startErr: d.StartErr, closeErr: d.CloseErr}
	d.streams = append(d.streams, s)
	return s, nil
}

// OpenCount returns how many streams were opened successfully.
func (d *InputDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Stream returns the i-th opened stream, or nil.
func (d *InputDevice) Stream(i int) *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

// CaptureStream is a mock implementation of [audio.CaptureStream].
type CaptureStream struct {
	// cbMu is held while the callback runs so that Close is synchronous.
	cbMu sync.Mutex

	mu         sync.Mutex
	format     audio.Format
	frameSize  int
	fn         audio.FrameFunc
	startErr   error
	closeErr   error
	closeCount int
	emitted    int
}

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start(frameSize int, fn audio.FrameFunc) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return ErrClosed
	}
	s.frameSize = frameSize
	s.fn = fn
	return nil
}

// Emit delivers one frame through the registered callback, as the device
// thread would. It reports whether the callback ran.
func (s *CaptureStream) Emit(samples []float32) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	s.mu.Lock()
	fn := s.fn
	format := s.format
	ts := time.Duration(0)
	if format.SampleRate > 0 {
		ts = time.Duration(int64(s.emitted*s.frameSize) * int64(time.Second) / int64(format.SampleRate))
	}
	s.emitted++
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(audio.AudioFrame{
		Samples:    samples,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Timestamp:  ts,
	})
	return true
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.fn = nil
	return s.closeErr
}

// Started reports whether Start was called and the stream is still open.
func (s *CaptureStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

// FrameSize returns the frame size passed to Start.
func (s *CaptureStream) FrameSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameSize
}

// Format returns the format passed to Open.
func (s *CaptureStream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// CloseCount returns how many times Close was called.
func (s *CaptureStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// CloseErr is returned by every opened stream's Close when non-nil.
	CloseErr error

	streams []*OutputStream
}

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(_ context.Context, format audio.Format) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &OutputStream{format: format, closeErr: d.CloseErr}
	d.streams = append(d.streams, s)
	return s, nil
}

// OpenCount returns how many streams were opened successfully.
func (d *OutputDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Stream returns the i-th opened stream, or nil.
func (d *OutputDevice) Stream(i int) *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

// NewOutputStream returns a standalone output stream for tests that drive a
// playback scheduler directly.
func NewOutputStream(format audio.Format) *OutputStream {
	return &OutputStream{format: format}
}

// OutputStream is a mock implementation of [audio.OutputStream] running on a
// virtual clock.
type OutputStream struct {
	mu         sync.Mutex
	format     audio.Format
	now        time.Duration
	voices     []*Voice
	closeErr   error
	closeCount int

	// ScheduleErr is returned by Schedule when non-nil.
	ScheduleErr error
}

// Now implements [audio.OutputStream].
func (s *OutputStream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule implements [audio.OutputStream].
func (s *OutputStream) Schedule(frame audio.AudioFrame, at time.Duration, onEnded func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	if s.closeCount > 0 {
		return nil, ErrClosed
	}
	if at < s.now {
		at = s.now
	}
	v := &Voice{Start: at, Duration: frame.Duration(), Frame: frame, onEnded: onEnded}
	s.voices = append(s.voices, v)
	return v, nil
}

// Advance moves the virtual clock forward by d and fires onEnded for every
// voice that finished playing, in start order.
func (s *OutputStream) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	var ended []*Voice
	for _, v := range s.voices {
		if v.finish(now) {
			ended = append(ended, v)
		}
	}
	s.mu.Unlock()

	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}

// Voices returns every voice scheduled so far, in scheduling order.
func (s *OutputStream) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	for _, v := range s.voices {
		v.Stop()
	}
	return s.closeErr
}

// CloseCount returns how many times Close was called.
func (s *OutputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	// Start is the clock position the frame was scheduled at.
	Start time.Duration

	// Duration is the frame's playback duration.
	Duration time.Duration

	// Frame is the scheduled frame.
	Frame audio.AudioFrame

	onEnded func()

	mu      sync.Mutex
	stopped bool
	ended   bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ended {
		v.stopped = true
	}
}

// Stopped reports whether the voice was stopped before it finished.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Ended reports whether the voice played to completion.
func (v *Voice) Ended() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ended
}

func (v *Voice) finish(now time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped || v.ended || v.Start+v.Duration > now {
		return false
	}
	v.ended = true
	return true
}
