package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echolabs/oralexam/internal/observe"
	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// DefaultFrameSize is the number of samples per captured microphone frame.
const DefaultFrameSize = 4096

// Config describes one exam session.
type Config struct {
	// Assessment supplies the reference material and the assessment ID
	// recorded on the result.
	Assessment Assessment

	// StudentName is recorded on the result and offered to the examiner.
	StudentName string

	// Voice is the prebuilt agent voice. Empty uses the provider default.
	Voice string

	// Instructions overrides the rendered examiner prompt when non-empty.
	Instructions string

	// Minutes is the target exam length offered to the examiner, e.g. "3-5".
	Minutes string

	// InputFormat is the capture format. Default: 16 kHz mono.
	InputFormat audio.Format

	// OutputFormat is the playback format. Default: 24 kHz mono.
	OutputFormat audio.Format

	// FrameSize is the number of samples per captured frame. Default: 4096.
	FrameSize int
}

func (c Config) withDefaults() Config {
	if c.InputFormat.SampleRate == 0 {
		c.InputFormat = audio.Mono16k
	}
	if c.OutputFormat.SampleRate == 0 {
		c.OutputFormat = audio.Mono24k
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	return c
}

// Deps are the collaborators a Session drives.
type Deps struct {
	Agent    agent.Provider
	Analyzer Analyzer
	Input    audio.InputDevice
	Output   audio.OutputDevice
}

func (d Deps) validate() error {
	var errs []error
	if d.Agent == nil {
		errs = append(errs, errors.New("agent provider is required"))
	}
	if d.Analyzer == nil {
		errs = append(errs, errors.New("analyzer is required"))
	}
	if d.Input == nil {
		errs = append(errs, errors.New("input device is required"))
	}
	if d.Output == nil {
		errs = append(errs, errors.New("output device is required"))
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithTurnOrder sets which role is flushed first when one turn-complete
// marker finalizes both. Default: [StudentFirst].
func WithTurnOrder(o TurnOrder) Option {
	return func(s *Session) { s.order = o }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metric instruments. Default: none.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides the wall clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithEntryHook registers fn to receive each transcript entry as it is
// finalized. fn runs on the agent's event goroutine and must not block.
func WithEntryHook(fn func(TranscriptEntry)) Option {
	return func(s *Session) { s.onEntry = fn }
}

// Session is one live oral examination.
type Session struct {
	id      string
	cfg     Config
	deps    Deps
	order   TurnOrder
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
	onEntry func(TranscriptEntry)

	state   atomic.Int32
	closing atomic.Bool
	counted atomic.Bool

	transcript *Aggregator
	playback   *Scheduler

	// mu guards the capture stream, the playback attachment and the activity
	// window.
	mu        sync.Mutex
	capture   audio.CaptureStream
	startedAt time.Time
	activeAt  time.Time
	endedAt   time.Time

	// sendMu orders outbound sends against transport shutdown. Senders hold
	// it for reading; teardown takes it for writing before clearing transport.
	sendMu    sync.RWMutex
	transport agent.Session

	opened      chan struct{}
	openOnce    sync.Once
	closingCh   chan struct{}
	closingOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once

	finishOnce sync.Once
	result     *AssessmentResult
	finishErr  error
}

// New creates an idle Session. Start must be called to begin the exam.
func New(cfg Config, deps Deps, opts ...Option) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("exam: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.InputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("exam: input format: %w", err)
	}
	if err := cfg.OutputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("exam: output format: %w", err)
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		deps:      deps,
		log:       slog.Default(),
		now:       time.Now,
		playback:  NewScheduler(cfg.OutputFormat),
		opened:    make(chan struct{}),
		closingCh: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.transcript = NewAggregator(s.order)
	s.log = s.log.With(
		slog.String("session_id", s.id),
		slog.String("assessment_id", cfg.Assessment.ID),
	)
	return s, nil
}

// ID returns the session identifier. It becomes the result ID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Transcript returns a snapshot of the finalized transcript.
func (s *Session) Transcript() []TranscriptEntry { return s.transcript.Entries() }

// Done is closed when the agent stream ends, whether remotely or through
// Finish. Callers that see Done close while the session is active should call
// Finish to collect the result.
func (s *Session) Done() <-chan struct{} { return s.done }

// Elapsed returns how long the session has been active. It stops advancing
// once Finish begins.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAt.IsZero() {
		return 0
	}
	end := s.endedAt
	if end.IsZero() {
		end = s.now()
	}
	return end.Sub(s.activeAt)
}

// Start acquires the microphone and speaker, connects the agent and begins
// streaming. It returns once the session is active.
//
// If Finish is called while Start is still connecting, Start releases what it
// acquired and returns [ErrClosed].
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	ctx, span := observe.StartSpan(ctx, "exam.start")
	defer span.End()

	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()
	s.log.Info("exam connecting", "agent", s.deps.Agent.Name())

	capture, err := s.deps.Input.Open(ctx, s.cfg.InputFormat)
	if err != nil {
		return s.abort(ctx, newError(ErrDevice, "open microphone", err))
	}
	if !s.adoptCapture(capture) {
		return ErrClosed
	}

	out, err := s.deps.Output.Open(ctx, s.cfg.OutputFormat)
	if err != nil {
		return s.abort(ctx, newError(ErrDevice, "open speaker", err))
	}
	if !s.adoptOutput(out) {
		return ErrClosed
	}

	t, err := s.deps.Agent.Connect(ctx, s.agentConfig(), s.handle)
	if err != nil {
		return s.abort(ctx, newError(ErrTransport, "connect", err))
	}
	if !s.adoptTransport(t) {
		return ErrClosed
	}

	select {
	case <-s.opened:
	case <-s.closingCh:
		return ErrClosed
	case <-s.done:
		select {
		case <-s.opened:
		default:
			return s.abort(ctx, newError(ErrTransport, "connect", errors.New("stream closed before it opened")))
		}
	case <-ctx.Done():
		return s.abort(ctx, newError(ErrTransport, "await open", ctx.Err()))
	}

	return s.activate(ctx)
}

func (s *Session) agentConfig() agent.Config {
	instructions := s.cfg.Instructions
	if instructions == "" {
		instructions = Instructions(InstructionData{
			Material:    s.cfg.Assessment.Notes,
			StudentName: s.cfg.StudentName,
			Minutes:     s.cfg.Minutes,
		})
	}
	return agent.Config{
		Instructions:     instructions,
		Voice:            s.cfg.Voice,
		InputSampleRate:  s.cfg.InputFormat.SampleRate,
		OutputSampleRate: s.cfg.OutputFormat.SampleRate,
		TranscribeInput:  true,
		TranscribeOutput: true,
	}
}

// adoptCapture stores capture, or closes it when Finish has already begun.
func (s *Session) adoptCapture(c audio.CaptureStream) bool {
	s.mu.Lock()
	if !s.closing.Load() {
		s.capture = c
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	s.step("release late microphone", c.Close)
	return false
}

// adoptOutput attaches out to the scheduler, or closes it when Finish has
// already begun.
func (s *Session) adoptOutput(out audio.OutputStream) bool {
	s.mu.Lock()
	if !s.closing.Load() {
		s.playback.Attach(out)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	s.step("release late speaker", out.Close)
	return false
}

// adoptTransport stores t, or closes it when Finish has already begun.
func (s *Session) adoptTransport(t agent.Session) bool {
	s.sendMu.Lock()
	if !s.closing.Load() {
		s.transport = t
		s.sendMu.Unlock()
		return true
	}
	s.sendMu.Unlock()
	s.step("release late transport", t.Close)
	return false
}

func (s *Session) activate(ctx context.Context) error {
	s.mu.Lock()
	if s.closing.Load() || !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		s.mu.Unlock()
		return ErrClosed
	}
	s.activeAt = s.now()
	connect := s.activeAt.Sub(s.startedAt)
	err := s.capture.Start(s.cfg.FrameSize, s.onFrame)
	s.mu.Unlock()

	if err != nil {
		return s.abort(ctx, newError(ErrDevice, "start microphone", err))
	}
	if s.metrics != nil {
		s.metrics.ConnectDuration.Record(ctx, connect.Seconds())
	}
	if s.counted.CompareAndSwap(false, true) {
		s.metrics.SessionStarted(ctx)
	}
	s.log.Info("exam active", "connect", connect)
	return nil
}

// abort tears down a session that failed to start. It shares finishOnce with
// Finish so that teardown runs once whichever wins.
func (s *Session) abort(ctx context.Context, err error) error {
	s.finishOnce.Do(func() {
		s.beginClosing()
		s.teardown()
		s.state.Store(int32(StateClosed))
		s.finishErr = err
		if s.counted.CompareAndSwap(true, false) {
			s.metrics.SessionEnded(ctx)
		}
		s.metrics.RecordSession(ctx, "failed", 0)
	})
	s.log.Error("exam failed to start", "err", err)
	return err
}

// onFrame runs on the capture thread for every microphone frame.
func (s *Session) onFrame(frame audio.AudioFrame) {
	ctx := context.Background()
	if s.closing.Load() {
		s.metrics.RecordFrameDropped(ctx, "closing")
		return
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.transport == nil {
		s.metrics.RecordFrameDropped(ctx, "not_ready")
		return
	}

	pcm := audio.EncodePCM16(frame)

	// Finish may have begun while encoding.
	if s.closing.Load() {
		s.metrics.RecordFrameDropped(ctx, "closing")
		return
	}
	if err := s.transport.SendAudio(pcm); err != nil {
		s.log.Debug("send audio failed", "err", err)
		s.metrics.RecordFrameDropped(ctx, "send_error")
		return
	}
	s.metrics.RecordFrameSent(ctx)
}

// handle receives agent events sequentially on the transport goroutine.
func (s *Session) handle(ev agent.Event) {
	switch ev.Kind {
	case agent.EventOpen:
		s.openOnce.Do(func() { close(s.opened) })

	case agent.EventMessage:
		s.handleMessage(ev.Message)

	case agent.EventError:
		s.log.Warn("agent error", "err", ev.Err)
		s.metrics.RecordAgentError(context.Background(), s.deps.Agent.Name())

	case agent.EventClose:
		if ev.Err != nil && !s.closing.Load() {
			s.log.Warn("agent stream closed", "err", ev.Err)
		} else {
			s.log.Debug("agent stream closed")
		}
		s.doneOnce.Do(func() { close(s.done) })
	}
}

func (s *Session) handleMessage(m agent.Message) {
	ctx := context.Background()
	switch m.Kind {
	case agent.MessageTranscript:
		s.transcript.Append(roleOf(m.Speaker), m.Text)

	case agent.MessageTurnComplete:
		for _, e := range s.transcript.Complete(s.now()) {
			s.metrics.RecordTranscriptEntry(ctx, string(e.Role))
			if s.onEntry != nil {
				s.onEntry(e)
			}
		}

	case agent.MessageAudio:
		if s.closing.Load() {
			return
		}
		if _, err := s.playback.Play(m.Audio, m.SampleRate); err != nil {
			s.log.Debug("schedule playback failed", "err", err)
			return
		}
		s.metrics.RecordPlaybackFrame(ctx)

	case agent.MessageInterrupted:
		n := s.playback.Interrupt()
		s.metrics.RecordInterruption(ctx, n)
		s.log.Debug("agent interrupted", "flushed", n)
	}
}

func roleOf(sp agent.Speaker) Role {
	if sp == agent.SpeakerAgent {
		return RoleAgent
	}
	return RoleStudent
}

// Finish ends the session, releases every resource and returns the analyzed
// result. It is idempotent: concurrent and repeated calls return the same
// result and error.
//
// When analysis fails the session is still fully closed and the returned
// error matches [ErrAnalysis].
func (s *Session) Finish(ctx context.Context) (*AssessmentResult, error) {
	if s.State() == StateIdle {
		return nil, ErrNotStarted
	}
	s.finishOnce.Do(func() {
		s.result, s.finishErr = s.finish(ctx)
	})
	return s.result, s.finishErr
}

func (s *Session) finish(ctx context.Context) (*AssessmentResult, error) {
	ctx, span := observe.StartSpan(ctx, "exam.finish")
	defer span.End()

	s.beginClosing()
	prev := State(s.state.Swap(int32(StateFinishing)))

	s.mu.Lock()
	if !s.activeAt.IsZero() {
		s.endedAt = s.now()
	}
	s.mu.Unlock()

	s.teardown()
	if s.counted.CompareAndSwap(true, false) {
		s.metrics.SessionEnded(ctx)
	}

	transcript := s.transcript.Entries()
	elapsed := s.Elapsed()
	s.log.Info("exam finishing", "from", prev, "entries", len(transcript), "elapsed", elapsed)

	analysis, err := s.deps.Analyzer.Analyze(ctx, AnalysisRequest{
		Transcript:        transcript,
		ReferenceMaterial: s.cfg.Assessment.Notes,
		Duration:          elapsed,
	})
	s.state.Store(int32(StateClosed))
	if err != nil {
		s.metrics.RecordSession(ctx, "analysis_failed", elapsed.Seconds())
		s.log.Error("analysis failed", "err", err)
		return nil, newError(ErrAnalysis, "analyze", err)
	}
	if analysis == nil {
		analysis = &Analysis{}
	}

	s.metrics.RecordSession(ctx, "completed", elapsed.Seconds())
	return &AssessmentResult{
		ID:               s.id,
		AssessmentID:     s.cfg.Assessment.ID,
		StudentName:      s.cfg.StudentName,
		Transcript:       transcript,
		FillerWords:      analysis.FillerWords,
		TotalFillerCount: analysis.TotalFillerCount,
		PauseCount:       analysis.PauseCount,
		PredictedGrade:   analysis.PredictedGrade,
		Feedback:         analysis.Feedback,
		DurationSeconds:  int(elapsed / time.Second),
		CompletedAt:      s.now(),
	}, nil
}

func (s *Session) beginClosing() {
	s.closing.Store(true)
	s.closingOnce.Do(func() { close(s.closingCh) })
}

// teardown releases resources in order: microphone, scheduled playback,
// speaker, transport. Failures are logged and never abort later steps.
func (s *Session) teardown() {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.mu.Unlock()
	if capture != nil {
		s.step("stop microphone", capture.Close)
	}

	s.mu.Lock()
	out := s.playback.Detach()
	s.mu.Unlock()
	if out != nil {
		s.step("close speaker", out.Close)
	}

	s.sendMu.Lock()
	t := s.transport
	s.transport = nil
	s.sendMu.Unlock()

	if t != nil {
		s.step("close transport", t.Close)
	}
}

// step runs one teardown step, converting a failure or panic into a debug log.
func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("teardown step panicked", "step", name, "err", fmt.Errorf("%w: %v", ErrShutdownRace, r))
		}
	}()
	if err := fn(); err != nil {
		s.log.Debug("teardown step failed", "step", name, "err", fmt.Errorf("%w: %w", ErrShutdownRace, err))
	}
}
