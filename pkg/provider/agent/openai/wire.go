package openai

import (
	"encoding/base64"

	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// Realtime event types this package sends or understands.
const (
	evSessionUpdate  = "session.update"
	evAudioAppend    = "input_audio_buffer.append"
	evSessionUpdated = "session.updated"
	evAudioDelta     = "response.audio.delta"
	evTranscript     = "response.audio_transcript.delta"
	evInputText      = "conversation.item.input_audio_transcription.completed"
	evSpeechStarted  = "input_audio_buffer.speech_started"
	evResponseDone   = "response.done"
	evError          = "error"
)

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionOptions `json:"session"`
}

type sessionOptions struct {
	Modalities        []string `json:"modalities"`
	Voice             string   `json:"voice,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`

	InputAudioTranscription *struct {
		Model string `json:"model"`
	} `json:"input_audio_transcription,omitempty"`

	TurnDetection struct {
		Type string `json:"type"`
	} `json:"turn_detection"`
}

func newSessionUpdate(cfg agent.Config, transcriber string) sessionUpdate {
	u := sessionUpdate{Type: evSessionUpdate, Session: sessionOptions{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}}
	u.Session.TurnDetection.Type = "server_vad"
	if cfg.TranscribeInput {
		u.Session.InputAudioTranscription = &struct {
			Model string `json:"model"`
		}{Model: transcriber}
	}
	return u
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func newAudioAppend(pcm []byte) audioAppend {
	return audioAppend{Type: evAudioAppend, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// serverEvent is the union of the inbound fields we read. Delta carries audio
// or agent transcript, Transcript the completed student transcription.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
