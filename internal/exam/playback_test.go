package exam_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/pkg/audio"
	audiomock "github.com/echolabs/oralexam/pkg/audio/mock"
)

// frame returns a silent 24 kHz mono frame of the given length.
func frame(d time.Duration) audio.AudioFrame {
	n := int(d * 24000 / time.Second)
	return audio.AudioFrame{Samples: make([]float32, n), SampleRate: 24000, Channels: 1}
}

// pcm returns d worth of s16le mono PCM at rate with a constant sample value.
func pcm(d time.Duration, rate int) []byte {
	n := int(d * time.Duration(rate) / time.Second)
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(1000))
	}
	return b
}

func newScheduler(t *testing.T) (*exam.Scheduler, *audiomock.OutputStream) {
	t.Helper()
	out := audiomock.NewOutputStream(audio.Mono24k)
	p := exam.NewScheduler(audio.Mono24k)
	p.Attach(out)
	return p, out
}

func TestScheduler_BackToBack(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	lengths := []time.Duration{100 * time.Millisecond, 40 * time.Millisecond, 250 * time.Millisecond}

	var prev exam.Placement
	for i, d := range lengths {
		got, err := p.Schedule(frame(d))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if i > 0 && got.Start != prev.Start+prev.Duration {
			t.Errorf("frame %d starts at %v, want %v", i, got.Start, prev.Start+prev.Duration)
		}
		if got.Duration != d {
			t.Errorf("frame %d duration = %v, want %v", i, got.Duration, d)
		}
		prev = got
	}

	if p.Next() != 390*time.Millisecond {
		t.Errorf("Next = %v, want 390ms", p.Next())
	}
	if len(out.Voices()) != 3 || p.Pending() != 3 {
		t.Errorf("voices = %d, pending = %d, want 3/3", len(out.Voices()), p.Pending())
	}
}

func TestScheduler_DrainedQueueStartsAtClock(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	if _, err := p.Schedule(frame(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	out.Advance(300 * time.Millisecond)

	got, err := p.Schedule(frame(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != 300*time.Millisecond {
		t.Errorf("start = %v, want clock position 300ms", got.Start)
	}
	if p.Next() < out.Now() {
		t.Errorf("cursor %v behind clock %v", p.Next(), out.Now())
	}
}

func TestScheduler_EndedFramesLeaveSet(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	for range 2 {
		if _, err := p.Schedule(frame(100 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	out.Advance(100 * time.Millisecond)
	if p.Pending() != 1 {
		t.Errorf("pending after first frame = %d, want 1", p.Pending())
	}
	out.Advance(100 * time.Millisecond)
	if p.Pending() != 0 {
		t.Errorf("pending after both frames = %d, want 0", p.Pending())
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	for range 3 {
		if _, err := p.Schedule(frame(200 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}
	out.Advance(50 * time.Millisecond)

	if n := p.Interrupt(); n != 3 {
		t.Errorf("Interrupt flushed %d frames, want 3", n)
	}
	if p.Pending() != 0 || p.Next() != 0 {
		t.Errorf("after Interrupt: pending = %d, next = %v; want 0, 0", p.Pending(), p.Next())
	}
	for i, v := range out.Voices() {
		if !v.Stopped() {
			t.Errorf("voice %d still playing after Interrupt", i)
		}
	}

	got, err := p.Schedule(frame(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != out.Now() {
		t.Errorf("first frame after interrupt starts at %v, want now (%v)", got.Start, out.Now())
	}
}

func TestScheduler_InterruptWhenIdle(t *testing.T) {
	t.Parallel()

	p, _ := newScheduler(t)
	if n := p.Interrupt(); n != 0 {
		t.Errorf("Interrupt on idle scheduler flushed %d", n)
	}
}

func TestScheduler_StoppedFramesNeverEnd(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	if _, err := p.Schedule(frame(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	p.Interrupt()
	out.Advance(time.Second)
	if out.Voices()[0].Ended() {
		t.Error("stopped frame reported as ended")
	}
}

func TestScheduler_Detach(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	if _, err := p.Schedule(frame(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	got := p.Detach()
	if got != audio.OutputStream(out) {
		t.Error("Detach did not return the attached stream")
	}
	if !out.Voices()[0].Stopped() {
		t.Error("Detach left a frame playing")
	}
	if _, err := p.Schedule(frame(10 * time.Millisecond)); err == nil {
		t.Error("Schedule after Detach succeeded")
	}
	if p.Detach() != nil {
		t.Error("second Detach returned a stream")
	}
}

func TestScheduler_PlayDecodesAndResamples(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)

	got, err := p.Play(pcm(100*time.Millisecond, 24000), 24000)
	if err != nil {
		t.Fatal(err)
	}
	if got.Duration != 100*time.Millisecond {
		t.Errorf("24 kHz duration = %v, want 100ms", got.Duration)
	}

	got, err = p.Play(pcm(100*time.Millisecond, 16000), 16000)
	if err != nil {
		t.Fatal(err)
	}
	if got.Duration != 100*time.Millisecond || got.Start != 100*time.Millisecond {
		t.Errorf("16 kHz placement = %+v, want start 100ms duration 100ms", got)
	}

	v := out.Voices()[0]
	if v.Frame.SampleRate != 24000 || len(v.Frame.Samples) != 2400 {
		t.Errorf("frame = %d samples @ %d Hz, want 2400 @ 24000", len(v.Frame.Samples), v.Frame.SampleRate)
	}
	if s := v.Frame.Samples[0]; s < 0.0305 || s > 0.0306 {
		t.Errorf("decoded sample = %v, want 1000/32768", s)
	}
}

func TestScheduler_PlayEmptyChunk(t *testing.T) {
	t.Parallel()

	p, out := newScheduler(t)
	if _, err := p.Play(nil, 24000); err != nil {
		t.Fatal(err)
	}
	if len(out.Voices()) != 0 {
		t.Error("empty chunk was scheduled")
	}
}
