// Package agent defines the Provider interface for remote conversational
// agents: real-time voice services that recognise the student's speech,
// reason over the reference material and answer with synthesised speech in a
// single stateful session.
//
// A session is one long-lived duplex stream. Outbound, the owner pushes raw
// PCM frames with [Session.SendAudio]. Inbound, the provider delivers a closed
// set of events to a single [Handler]: the stream opened, a message arrived,
// a non-fatal error occurred, or the stream closed. Messages are themselves a
// small tagged union (transcript fragment, turn-complete marker, audio frame,
// interruption marker).
//
// All implementations must be safe for concurrent use.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by [Session.SendAudio] after Close.
var ErrSessionClosed = errors.New("agent: session closed")

// Speaker identifies whose speech a transcript fragment belongs to.
type Speaker int

const (
	// SpeakerStudent is the human taking the exam (the agent's input audio).
	SpeakerStudent Speaker = iota

	// SpeakerAgent is the remote examiner (the agent's output audio).
	SpeakerAgent
)

// String returns the human-readable name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerStudent:
		return "student"
	case SpeakerAgent:
		return "agent"
	default:
		return fmt.Sprintf("Speaker(%d)", int(s))
	}
}

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventOpen is delivered once, when the agent acknowledges the session
	// configuration and is ready for audio.
	EventOpen EventKind = iota

	// EventMessage carries one [Message].
	EventMessage

	// EventError reports a non-fatal error from the agent or the stream.
	EventError

	// EventClose is delivered once, when the stream has ended for any reason.
	EventClose
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// MessageKind discriminates [Message] values.
type MessageKind int

const (
	// MessageTranscript is a partial transcript fragment for one speaker.
	MessageTranscript MessageKind = iota

	// MessageTurnComplete marks the end of the current turn.
	MessageTurnComplete

	// MessageAudio is one frame of synthesised speech.
	MessageAudio

	// MessageInterrupted signals that the student started talking over
	// speech that is still playing.
	MessageInterrupted
)

// String returns the human-readable name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case MessageTranscript:
		return "transcript"
	case MessageTurnComplete:
		return "turn_complete"
	case MessageAudio:
		return "audio"
	case MessageInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Message is one inbound item from the agent. Only the fields relevant to
// Kind are set.
type Message struct {
	Kind MessageKind

	// Speaker and Text are set for MessageTranscript. Text is the exact wire
	// fragment; fragments must be joined without separators.
	Speaker Speaker
	Text    string

	// Audio holds little-endian signed 16-bit mono PCM for MessageAudio.
	Audio []byte

	// SampleRate is the rate of Audio in Hz.
	SampleRate int
}

// Event is the single type delivered to a [Handler].
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message Message

	// Err is set for EventError, and for EventClose when the stream ended
	// abnormally.
	Err error
}

// Handler receives every event of a session. Events are delivered
// sequentially from a single goroutine, in arrival order. The handler must
// not call Close on the session synchronously.
type Handler func(Event)

// Config is the initial configuration for a new agent session.
type Config struct {
	// Instructions is the system instruction that grounds the agent in the
	// reference material and defines its examiner persona.
	Instructions string

	// Voice is the provider-specific prebuilt voice name (e.g. "Kore").
	Voice string

	// InputSampleRate is the rate of PCM passed to SendAudio. Default 16000.
	InputSampleRate int

	// OutputSampleRate is the rate at which synthesised speech is delivered.
	// Default 24000.
	OutputSampleRate int

	// TranscribeInput requests transcription of the student's speech.
	TranscribeInput bool

	// TranscribeOutput requests transcription of the agent's speech.
	TranscribeOutput bool
}

// WithDefaults returns a copy of c with zero sample rates filled in.
func (c Config) WithDefaults() Config {
	if c.InputSampleRate == 0 {
		c.InputSampleRate = 16000
	}
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = 24000
	}
	return c
}

// Session is an open agent session. It is an interface so that test code can
// supply mock implementations without a live provider connection.
type Session interface {
	// SendAudio delivers one frame of little-endian signed 16-bit mono PCM at
	// the configured input rate. Sending is fire-and-forget: a nil error means
	// the frame was handed to the stream, not that the agent received it.
	// Returns [ErrSessionClosed] after Close.
	SendAudio(pcm []byte) error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any remote conversational agent.
type Provider interface {
	// Connect dials the agent and sends the session configuration. Events are
	// delivered to h from then on, starting with EventOpen once the agent
	// acknowledges. Returns an error if the stream cannot be established. The
	// caller owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg Config, h Handler) (Session, error)

	// Name returns the provider's registry name, e.g. "gemini-live".
	Name() string
}
