// Package playback implements [audio.OutputDevice] on top of
// github.com/ebitengine/oto/v3.
//
// oto pulls PCM from an io.Reader. The stream here is such a reader: it mixes
// every scheduled frame into the pulled buffer at its exact sample position
// and advances a sample counter that serves as the output clock. When nothing
// is scheduled it renders silence, so the clock keeps moving like a hardware
// clock would.
package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

var _ audio.OutputDevice = (*Device)(nil)
var _ audio.OutputStream = (*Stream)(nil)

// oto allows a single context per process.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithBufferSize sets oto's internal buffer duration. Default: 50 ms.
func WithBufferSize(d time.Duration) Option {
	return func(dev *Device) { dev.bufferSize = d }
}

// Device opens the system default speaker.
type Device struct {
	bufferSize time.Duration
}

// New creates a playback Device.
func New(opts ...Option) *Device {
	d := &Device{bufferSize: 50 * time.Millisecond}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open starts a player on the shared oto context. The first call fixes the
// process-wide output format; later calls must request the same format.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.OutputStream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   d.bufferSize,
		})
		if otoErr == nil {
			otoFormat = format
			select {
			case <-ready:
			case <-ctx.Done():
				otoErr = ctx.Err()
			}
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("playback: init context: %w", otoErr)
	}
	if otoFormat != format {
		return nil, fmt.Errorf("playback: device already opened as %s, cannot open as %s", otoFormat, format)
	}

	s := newStream(format)
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Stream is an open output stream. It implements io.Reader for oto.
type Stream struct {
	format audio.Format
	player *oto.Player

	mu     sync.Mutex
	pos    int64 // frames rendered so far
	voices []*voice
	mix    []float32
	closed bool
}

func newStream(format audio.Format) *Stream {
	return &Stream{format: format}
}

// Now returns the render position of the output clock.
func (s *Stream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDuration(s.pos)
}

// Schedule mixes frame into the output starting at clock position at.
func (s *Stream) Schedule(frame audio.AudioFrame, at time.Duration, onEnded func()) (audio.Voice, error) {
	if frame.SampleRate != s.format.SampleRate || frame.Channels != s.format.Channels {
		return nil, fmt.Errorf("playback: frame format %dHz/%dch does not match stream %s",
			frame.SampleRate, frame.Channels, s.format)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("playback: stream closed")
	}
	start := s.toFrames(at)
	if start < s.pos {
		start = s.pos
	}
	v := &voice{
		stream:  s,
		start:   start,
		samples: frame.Samples,
		onEnded: onEnded,
	}
	s.voices = append(s.voices, v)
	return v, nil
}

// Read renders the next len(p) bytes of float32 PCM.
func (s *Stream) Read(p []byte) (int, error) {
	ch := s.format.Channels
	frames := len(p) / (4 * ch)
	n := frames * ch

	s.mu.Lock()
	if cap(s.mix) < n {
		s.mix = make([]float32, n)
	}
	mix := s.mix[:n]
	clear(mix)

	from, to := s.pos, s.pos+int64(frames)
	var ended []func()
	live := s.voices[:0]
	for _, v := range s.voices {
		end := v.start + int64(len(v.samples)/ch)
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			src := v.samples[(lo-v.start)*int64(ch) : (hi-v.start)*int64(ch)]
			dst := mix[(lo-from)*int64(ch):]
			for i, smp := range src {
				dst[i] += smp
			}
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		live = append(live, v)
	}
	clear(s.voices[len(live):])
	s.voices = live
	s.pos = to
	s.mu.Unlock()

	for i, smp := range mix {
		if smp > 1 {
			smp = 1
		} else if smp < -1 {
			smp = -1
		}
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(smp))
	}

	for _, fn := range ended {
		fn()
	}
	return n * 4, nil
}

// Close stops the player and drops every scheduled frame.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clear(s.voices)
	s.voices = nil
	s.mu.Unlock()

	if s.player != nil {
		return s.player.Close()
	}
	return nil
}

func (s *Stream) toDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(s.format.SampleRate))
}

func (s *Stream) toFrames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	// Round to the nearest frame; durations derived from frame lengths are
	// truncated to the nanosecond.
	num := int64(d) * int64(s.format.SampleRate)
	return (num + int64(time.Second)/2) / int64(time.Second)
}

// voice is one scheduled frame.
type voice struct {
	stream  *Stream
	start   int64
	samples []float32
	onEnded func()
}

// Stop removes the voice from the mix without firing onEnded.
func (v *voice) Stop() {
	s := v.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.voices {
		if other == v {
			s.voices = append(s.voices[:i], s.voices[i+1:]...)
			return
		}
	}
}
