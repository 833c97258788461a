// Package mock provides test doubles for the agent package interfaces.
//
// Use Provider to verify Connect calls and obtain the Session it created. Use
// Session to push inbound events into the owner's handler and to inspect the
// audio the owner sent.
//
// Example:
//
//	p := &mock.Provider{OpenOnConnect: true}
//	// ... start the component under test with p ...
//	sess := p.Session(0)
//	sess.Transcript(agent.SpeakerAgent, "Hello")
//	sess.TurnComplete()
package mock

import (
	"context"
	"sync"

	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg agent.Config
}

// Provider is a mock implementation of agent.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Default "mock".
	ProviderName string

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// OpenOnConnect delivers EventOpen from inside Connect, before it returns.
	OpenOnConnect bool

	// BeforeReturn, if set, is called with the new session just before
	// Connect returns (after OpenOnConnect).
	BeforeReturn func(*Session)

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
	notify   chan struct{}
}

// Ensure Provider implements agent.Provider at compile time.
var _ agent.Provider = (*Provider)(nil)

// Name implements agent.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Connect records the call and returns a new Session bound to h.
func (p *Provider) Connect(ctx context.Context, cfg agent.Config, h agent.Handler) (agent.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	s := &Session{handler: h}
	p.sessions = append(p.sessions, s)
	open, hook := p.OpenOnConnect, p.BeforeReturn
	p.signalLocked()
	p.mu.Unlock()

	if open {
		s.Open()
	}
	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Session returns the i-th session created by Connect, or nil.
func (p *Provider) Session(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.sessions) {
		return nil
	}
	return p.sessions[i]
}

// Connected returns a channel that is closed once at least one session has
// been created.
func (p *Provider) Connected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notify == nil {
		p.notify = make(chan struct{})
		if len(p.sessions) > 0 {
			close(p.notify)
		}
	}
	return p.notify
}

func (p *Provider) signalLocked() {
	if p.notify == nil {
		p.notify = make(chan struct{})
	}
	select {
	case <-p.notify:
	default:
		close(p.notify)
	}
}

// ConnectCallCount returns how many times Connect was called.
func (p *Provider) ConnectCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock implementation of agent.Session.
type Session struct {
	handler agent.Handler

	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendAudio (the chunk is still recorded).
	SendErr error

	// OnSend, if set, is called synchronously for every SendAudio.
	OnSend func(pcm []byte)

	// CloseErr is returned by Close.
	CloseErr error

	sent        [][]byte
	attempts    int
	closeCount  int
	closedEvent bool
}

// Ensure Session implements agent.Session at compile time.
var _ agent.Session = (*Session)(nil)

// SendAudio records a copy of pcm.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	s.attempts++
	if s.closeCount > 0 {
		s.mu.Unlock()
		return agent.ErrSessionClosed
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.sent = append(s.sent, cp)
	hook, err := s.OnSend, s.SendErr
	s.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return err
}

// Close records the call and, the first time, delivers EventClose.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	first := s.closeCount == 1
	err := s.CloseErr
	s.mu.Unlock()

	if first {
		s.emitClose(nil)
	}
	return err
}

// Sent returns copies of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentCount returns how many chunks were accepted by SendAudio.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// SendAttempts returns how many times SendAudio was called, including calls
// rejected after Close.
func (s *Session) SendAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Emit delivers ev to the owner's handler synchronously.
func (s *Session) Emit(ev agent.Event) {
	s.handler(ev)
}

// Open delivers EventOpen.
func (s *Session) Open() { s.Emit(agent.Event{Kind: agent.EventOpen}) }

// Transcript delivers a transcript fragment.
func (s *Session) Transcript(speaker agent.Speaker, text string) {
	s.message(agent.Message{Kind: agent.MessageTranscript, Speaker: speaker, Text: text})
}

// TurnComplete delivers a turn-complete marker.
func (s *Session) TurnComplete() {
	s.message(agent.Message{Kind: agent.MessageTurnComplete})
}

// Audio delivers one frame of s16le PCM at the given rate.
func (s *Session) Audio(pcm []byte, sampleRate int) {
	s.message(agent.Message{Kind: agent.MessageAudio, Audio: pcm, SampleRate: sampleRate})
}

// Interrupted delivers an interruption marker.
func (s *Session) Interrupted() {
	s.message(agent.Message{Kind: agent.MessageInterrupted})
}

// Error delivers a non-fatal error.
func (s *Session) Error(err error) {
	s.Emit(agent.Event{Kind: agent.EventError, Err: err})
}

// RemoteClose delivers EventClose as if the agent ended the stream.
func (s *Session) RemoteClose(err error) {
	s.emitClose(err)
}

func (s *Session) emitClose(err error) {
	s.mu.Lock()
	if s.closedEvent {
		s.mu.Unlock()
		return
	}
	s.closedEvent = true
	s.mu.Unlock()
	s.Emit(agent.Event{Kind: agent.EventClose, Err: err})
}

func (s *Session) message(m agent.Message) {
	s.Emit(agent.Event{Kind: agent.EventMessage, Message: m})
}
