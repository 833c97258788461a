package exam

import (
	"errors"
	"sync"
	"time"

	"github.com/echolabs/oralexam/pkg/audio"
)

// errNoOutput is returned by [Scheduler.Schedule] before an output stream is
// attached or after it was detached.
var errNoOutput = errors.New("exam: no output stream attached")

// Placement is where a frame landed on the output clock.
type Placement struct {
	Start    time.Duration
	Duration time.Duration
}

// Scheduler lays agent audio frames end to end on an output clock so that
// consecutive frames play without gaps or overlap.
//
// Each frame starts at max(next, now) and advances next by the frame's
// duration. [Scheduler.Interrupt] silences everything still scheduled and
// resets next to zero, so the first frame after a barge-in plays immediately.
type Scheduler struct {
	format audio.Format

	mu        sync.Mutex
	out       audio.OutputStream
	next      time.Duration
	scheduled map[*slot]struct{}
}

type slot struct {
	voice audio.Voice
}

// NewScheduler returns a Scheduler that decodes inbound PCM into format.
func NewScheduler(format audio.Format) *Scheduler {
	return &Scheduler{format: format, scheduled: make(map[*slot]struct{})}
}

// Attach binds the output stream frames are scheduled on.
func (p *Scheduler) Attach(out audio.OutputStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = out
	p.next = 0
}

// Play decodes one chunk of s16le mono PCM at sampleRate and schedules it.
// Chunks at a rate other than the scheduler's format are resampled first.
func (p *Scheduler) Play(pcm []byte, sampleRate int) (Placement, error) {
	if sampleRate > 0 && sampleRate != p.format.SampleRate {
		pcm = audio.ResampleMono16(pcm, sampleRate, p.format.SampleRate)
	}
	frame := audio.DecodePCM16(pcm, p.format)
	if frame.Frames() == 0 {
		return Placement{}, nil
	}
	return p.Schedule(frame)
}

// Schedule places frame directly after the previously scheduled one, or at
// the current clock position if the queue has drained.
func (p *Scheduler) Schedule(frame audio.AudioFrame) (Placement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return Placement{}, errNoOutput
	}

	start := max(p.next, p.out.Now())
	s := &slot{}
	voice, err := p.out.Schedule(frame, start, func() { p.release(s) })
	if err != nil {
		return Placement{}, err
	}
	s.voice = voice
	p.scheduled[s] = struct{}{}

	dur := frame.Duration()
	p.next = start + dur
	return Placement{Start: start, Duration: dur}, nil
}

// Interrupt stops every scheduled frame and resets the cursor. It returns the
// number of frames that were cut off.
func (p *Scheduler) Interrupt() int {
	p.mu.Lock()
	voices := p.drainLocked()
	p.next = 0
	p.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return len(voices)
}

// Detach stops every scheduled frame and unbinds the output stream, returning
// it so the caller can close it. It returns nil when nothing was attached.
func (p *Scheduler) Detach() audio.OutputStream {
	p.mu.Lock()
	out := p.out
	p.out = nil
	voices := p.drainLocked()
	p.next = 0
	p.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	return out
}

// Next returns the clock position the next frame would start at if the
// output clock has not passed it.
func (p *Scheduler) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Pending returns how many frames are scheduled and have not finished.
func (p *Scheduler) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scheduled)
}

func (p *Scheduler) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scheduled, s)
}

// drainLocked must be called with p.mu held.
func (p *Scheduler) drainLocked() []audio.Voice {
	voices := make([]audio.Voice, 0, len(p.scheduled))
	for s := range p.scheduled {
		voices = append(voices, s.voice)
	}
	clear(p.scheduled)
	return voices
}
