// Package openai connects exam sessions to the OpenAI Realtime API.
//
// The Realtime wire format is PCM16 at 24 kHz in both directions. Student
// audio at other rates is upsampled before it is appended, and agent audio
// is resampled to the configured output rate. Server events map onto agent
// messages as follows:
//
//	session.updated                                        open
//	conversation.item.input_audio_transcription.completed  student transcript
//	response.audio_transcript.delta                        agent transcript
//	response.audio.delta                                   audio
//	input_audio_buffer.speech_started                      interrupted
//	response.done                                          turn complete
//
// Student transcription runs asynchronously on the server and can land after
// the response it belongs to has completed. The fragment then opens the next
// student turn.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// Name is the registry name of this provider.
const Name = "openai-realtime"

const (
	defaultModel       = "gpt-4o-realtime-preview"
	defaultBaseURL     = "wss://api.openai.com/v1/realtime"
	defaultTranscriber = "whisper-1"

	wireRate = 24000
)

var (
	_ agent.Provider = (*Provider)(nil)
	_ agent.Session  = (*session)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the realtime model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the WebSocket endpoint, e.g. with a local test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithTranscriptionModel selects the model that transcribes the student.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriber = model }
}

// Provider dials OpenAI Realtime sessions.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	transcriber string
}

// New returns a Provider that authenticates with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL, transcriber: defaultTranscriber}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements agent.Provider.
func (p *Provider) Name() string { return Name }

// Connect implements agent.Provider. EventOpen follows the server's
// session.updated.
func (p *Provider) Connect(ctx context.Context, cfg agent.Config, h agent.Handler) (agent.Session, error) {
	if h == nil {
		return nil, errors.New("openai: nil handler")
	}
	cfg = cfg.WithDefaults()

	conn, _, err := websocket.Dial(ctx, p.baseURL+"?model="+url.QueryEscape(p.model), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + p.apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	s := &session{
		conn:       conn,
		handler:    h,
		inputRate:  cfg.InputSampleRate,
		outputRate: cfg.OutputSampleRate,
		upsample:   &audio.Converter{Target: audio.Format{SampleRate: wireRate, Channels: 1}},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.send(newSessionUpdate(cfg, p.transcriber)); err != nil {
		s.cancel()
		_ = conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type session struct {
	conn       *websocket.Conn
	handler    agent.Handler
	inputRate  int
	outputRate int

	// upsample keeps state across frames, so SendAudio calls are serialized.
	sendMu   sync.Mutex
	upsample *audio.Converter

	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
	opened sync.Once
}

func (s *session) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: encode event: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// readLoop dispatches server events until the stream ends, then emits the
// session's single EventClose.
func (s *session) readLoop() {
	var cause error
	defer func() { s.handler(agent.Event{Kind: agent.EventClose, Err: cause}) }()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				cause = fmt.Errorf("openai: read: %w", err)
			}
			return
		}
		var ev serverEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		s.dispatch(&ev)
	}
}

func (s *session) dispatch(ev *serverEvent) {
	var m agent.Message
	switch ev.Type {
	case evSessionUpdated:
		s.opened.Do(func() { s.handler(agent.Event{Kind: agent.EventOpen}) })
		return
	case evError:
		msg := "unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		s.handler(agent.Event{Kind: agent.EventError, Err: errors.New("openai: " + msg)})
		return
	case evAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		if s.outputRate != wireRate {
			pcm = audio.ResampleMono16(pcm, wireRate, s.outputRate)
		}
		m = agent.Message{Kind: agent.MessageAudio, Audio: pcm, SampleRate: s.outputRate}
	case evTranscript:
		if ev.Delta == "" {
			return
		}
		m = agent.Message{Kind: agent.MessageTranscript, Speaker: agent.SpeakerAgent, Text: ev.Delta}
	case evInputText:
		if ev.Transcript == "" {
			return
		}
		m = agent.Message{Kind: agent.MessageTranscript, Speaker: agent.SpeakerStudent, Text: ev.Transcript}
	case evSpeechStarted:
		m = agent.Message{Kind: agent.MessageInterrupted}
	case evResponseDone:
		m = agent.Message{Kind: agent.MessageTurnComplete}
	default:
		return
	}
	s.handler(agent.Event{Kind: agent.EventMessage, Message: m})
}

// SendAudio implements agent.Session.
func (s *session) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return agent.ErrSessionClosed
	}
	s.sendMu.Lock()
	pcm = s.upsample.Convert(pcm, s.inputRate)
	s.sendMu.Unlock()
	if len(pcm) == 0 {
		return nil
	}
	return s.send(newAudioAppend(pcm))
}

// Close implements agent.Session.
func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
