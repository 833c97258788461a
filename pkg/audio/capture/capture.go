// Package capture implements [audio.InputDevice] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// The device runs in 32-bit float mode at the requested rate. The real-time
// data callback only accumulates samples into fixed-size frames and hands them
// to a pump goroutine over a bounded channel; when the consumer falls behind,
// frames are dropped rather than queued.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/gen2brain/malgo"
)

var _ audio.InputDevice = (*Device)(nil)
var _ audio.CaptureStream = (*stream)(nil)

// frameQueue bounds how many complete frames may wait for the consumer.
const frameQueue = 8

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithPeriod sets the device period (callback cadence). Default: 20 ms.
func WithPeriod(d time.Duration) Option {
	return func(dev *Device) { dev.period = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(dev *Device) { dev.log = l }
}

// Device opens the system default microphone.
type Device struct {
	period time.Duration
	log    *slog.Logger
}

// New creates a capture Device.
func New(opts ...Option) *Device {
	d := &Device{period: 20 * time.Millisecond, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open initialises a miniaudio context and starts the default capture device.
// Samples are discarded until the returned stream is started.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.CaptureStream, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}

	s := &stream{
		mctx:   mctx,
		format: format,
		frames: make(chan audio.AudioFrame, frameQueue),
		done:   make(chan struct{}),
		log:    d.log,
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(d.period / time.Millisecond)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.releaseContext()
		return nil, fmt.Errorf("capture: init device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		s.releaseContext()
		return nil, fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return s, nil
}

// stream is an open capture device.
type stream struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	format audio.Format
	log    *slog.Logger

	// bufMu guards the accumulation state touched by the device thread.
	bufMu     sync.Mutex
	frameSize int
	buf       []float32
	captured  int64

	// cbMu is held while fn runs; Close takes it to disconnect fn.
	cbMu sync.Mutex
	fn   audio.FrameFunc

	frames    chan audio.AudioFrame
	done      chan struct{}
	started   atomic.Bool
	dropped   atomic.Int64
	closeOnce sync.Once
}

// Start wires fn to the device and begins framing.
func (s *stream) Start(frameSize int, fn audio.FrameFunc) error {
	if frameSize <= 0 {
		return fmt.Errorf("capture: invalid frame size %d", frameSize)
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: already started")
	}

	s.cbMu.Lock()
	s.fn = fn
	s.cbMu.Unlock()

	s.bufMu.Lock()
	s.frameSize = frameSize
	s.buf = make([]float32, 0, frameSize*2)
	s.bufMu.Unlock()

	go s.pump()
	return nil
}

// onData runs on the miniaudio device thread.
func (s *stream) onData(_, input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	if s.frameSize == 0 {
		return
	}

	n := int(frameCount) * s.format.Channels
	if len(input) < n*4 {
		n = len(input) / 4
	}
	for i := range n {
		s.buf = append(s.buf, math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:])))
	}

	size := s.frameSize * s.format.Channels
	for len(s.buf) >= size {
		samples := make([]float32, size)
		copy(samples, s.buf[:size])
		s.buf = append(s.buf[:0], s.buf[size:]...)

		frame := audio.AudioFrame{
			Samples:    samples,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Duration(s.captured * int64(time.Second) / int64(s.format.SampleRate)),
		}
		s.captured += int64(s.frameSize)

		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
		}
	}
}

// pump delivers queued frames to fn until the stream is closed.
func (s *stream) pump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			s.cbMu.Lock()
			if s.fn != nil {
				s.fn(frame)
			}
			s.cbMu.Unlock()
		}
	}
}

// Close disconnects the callback and then stops and releases the device.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Disconnect first: once cbMu is acquired no callback is running and
		// none will run again.
		s.cbMu.Lock()
		s.fn = nil
		s.cbMu.Unlock()
		close(s.done)

		if s.device != nil {
			err = s.device.Stop()
			s.device.Uninit()
		}
		s.releaseContext()

		if n := s.dropped.Load(); n > 0 {
			s.log.Debug("capture: frames dropped by slow consumer", "count", n)
		}
	})
	return err
}

func (s *stream) releaseContext() {
	if s.mctx == nil {
		return
	}
	_ = s.mctx.Uninit()
	s.mctx.Free()
	s.mctx = nil
}
