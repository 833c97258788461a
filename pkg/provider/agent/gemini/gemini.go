// Package gemini connects exam sessions to the Gemini Live API.
//
// A session is one BidiGenerateContent WebSocket. The setup frame carries the
// examiner instructions, the prebuilt voice and the transcription switches;
// after that the client streams base64 PCM and the server answers with audio,
// transcript fragments and turn markers.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// Name is the registry name of this provider.
const Name = "gemini-live"

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath       = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	pingEvery   = 20 * time.Second
	pingTimeout = 5 * time.Second
)

var (
	_ agent.Provider = (*Provider)(nil)
	_ agent.Session  = (*session)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Live model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the WebSocket root, e.g. with a local test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider dials Gemini Live sessions.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New returns a Provider that authenticates with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements agent.Provider.
func (p *Provider) Name() string { return Name }

// Connect implements agent.Provider. EventOpen follows the server's
// setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg agent.Config, h agent.Handler) (agent.Session, error) {
	if h == nil {
		return nil, errors.New("gemini: nil handler")
	}
	cfg = cfg.WithDefaults()

	conn, _, err := websocket.Dial(ctx, p.baseURL+bidiPath+"?key="+url.QueryEscape(p.apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(-1)

	s := &session{
		conn:       conn,
		handler:    h,
		inputMIME:  audio.MIMEType(cfg.InputSampleRate),
		outputRate: cfg.OutputSampleRate,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.send(setupFrame(p.model, cfg)); err != nil {
		s.cancel()
		_ = conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

type session struct {
	conn       *websocket.Conn
	handler    agent.Handler
	inputMIME  string
	outputRate int

	// ctx outlives the Connect call and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
	opened sync.Once
}

func (s *session) send(f clientFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gemini: encode frame: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// readLoop dispatches server frames until the stream ends, then emits the
// session's single EventClose.
func (s *session) readLoop() {
	var cause error
	defer func() { s.handler(agent.Event{Kind: agent.EventClose, Err: cause}) }()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				cause = fmt.Errorf("gemini: read: %w", err)
			}
			return
		}
		var f serverFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		s.dispatch(&f)
	}
}

func (s *session) dispatch(f *serverFrame) {
	if f.SetupComplete != nil {
		s.opened.Do(func() { s.handler(agent.Event{Kind: agent.EventOpen}) })
	}
	if f.Error != nil {
		msg := f.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("error code %d", f.Error.Code)
		}
		s.handler(agent.Event{Kind: agent.EventError, Err: errors.New("gemini: " + msg)})
	}
	if f.ServerContent != nil {
		for _, m := range f.ServerContent.messages(s.outputRate) {
			s.handler(agent.Event{Kind: agent.EventMessage, Message: m})
		}
	}
}

func (s *session) pingLoop() {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			_ = s.conn.Ping(ctx)
			cancel()
		}
	}
}

// SendAudio implements agent.Session.
func (s *session) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return agent.ErrSessionClosed
	}
	return s.send(audioFrame(s.inputMIME, pcm))
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
