package playback

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/echolabs/oralexam/pkg/audio"
)

// format8k keeps buffers small: 8 frames per millisecond.
var format8k = audio.Format{SampleRate: 8000, Channels: 1}

func frameOf(n int, v float32) audio.AudioFrame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.AudioFrame{Samples: samples, SampleRate: 8000, Channels: 1}
}

// render pulls n frames from s and returns the decoded samples.
func render(t *testing.T, s *Stream, n int) []float32 {
	t.Helper()
	buf := make([]byte, n*4)
	got, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != len(buf) {
		t.Fatalf("Read returned %d bytes, want %d", got, len(buf))
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func TestStream_ClockAdvancesWithSilence(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	out := render(t, s, 80)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d = %v, want silence", i, v)
		}
	}
	if got, want := s.Now(), 10*time.Millisecond; got != want {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestStream_ScheduleAtExactPosition(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	if _, err := s.Schedule(frameOf(8, 0.5), 2*time.Millisecond, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := render(t, s, 40)
	for i, v := range out {
		want := float32(0)
		if i >= 16 && i < 24 {
			want = 0.5
		}
		if v != want {
			t.Errorf("sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestStream_PastPositionStartsImmediately(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	render(t, s, 16)
	if _, err := s.Schedule(frameOf(4, 0.25), 0, nil); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := render(t, s, 8)
	for i := range 4 {
		if out[i] != 0.25 {
			t.Errorf("sample %d = %v, want 0.25", i, out[i])
		}
	}
}

func TestStream_OnEndedFiresAfterFullPlayback(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	ended := 0
	if _, err := s.Schedule(frameOf(12, 0.1), 0, func() { ended++ }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	render(t, s, 8)
	if ended != 0 {
		t.Fatalf("onEnded fired early")
	}
	render(t, s, 8)
	if ended != 1 {
		t.Fatalf("onEnded fired %d times, want 1", ended)
	}
	render(t, s, 8)
	if ended != 1 {
		t.Fatalf("onEnded fired again: %d", ended)
	}
}

func TestStream_StopSilencesWithoutOnEnded(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	ended := false
	v, err := s.Schedule(frameOf(16, 0.5), 0, func() { ended = true })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	render(t, s, 4)
	v.Stop()
	out := render(t, s, 16)
	for i, smp := range out {
		if smp != 0 {
			t.Fatalf("sample %d = %v after Stop, want 0", i, smp)
		}
	}
	if ended {
		t.Error("onEnded fired for a stopped voice")
	}
}

func TestStream_MixesAndClamps(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	_, _ = s.Schedule(frameOf(4, 0.75), 0, nil)
	_, _ = s.Schedule(frameOf(4, 0.75), 0, nil)
	out := render(t, s, 4)
	for i, v := range out {
		if v != 1 {
			t.Errorf("sample %d = %v, want clamped 1", i, v)
		}
	}
}

func TestStream_RejectsFormatMismatch(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	frame := audio.AudioFrame{Samples: make([]float32, 4), SampleRate: 16000, Channels: 1}
	if _, err := s.Schedule(frame, 0, nil); err == nil {
		t.Fatal("expected error for mismatched sample rate")
	}
}

func TestStream_ScheduleAfterClose(t *testing.T) {
	t.Parallel()
	s := newStream(format8k)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Schedule(frameOf(4, 0.1), 0, nil); err == nil {
		t.Fatal("expected error after Close")
	}
}
