package gemini

import (
	"encoding/base64"
	"encoding/json"

	"github.com/echolabs/oralexam/pkg/provider/agent"
)

// Client frames.

type clientFrame struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setup struct {
	Model             string     `json:"model"`
	GenerationConfig  generation `json:"generationConfig"`
	SystemInstruction *content   `json:"systemInstruction,omitempty"`

	// Present-but-empty objects switch transcription on.
	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

type generation struct {
	ResponseModalities []string `json:"responseModalities"`
	SpeechConfig       *speech  `json:"speechConfig,omitempty"`
}

type speech struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type realtimeInput struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// setupFrame is the first frame of every session.
func setupFrame(model string, cfg agent.Config) clientFrame {
	s := &setup{
		Model:            "models/" + model,
		GenerationConfig: generation{ResponseModalities: []string{"AUDIO"}},
	}
	if cfg.Instructions != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sp := &speech{}
		sp.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		s.GenerationConfig.SpeechConfig = sp
	}
	if cfg.TranscribeInput {
		s.InputAudioTranscription = &struct{}{}
	}
	if cfg.TranscribeOutput {
		s.OutputAudioTranscription = &struct{}{}
	}
	return clientFrame{Setup: s}
}

func audioFrame(mime string, pcm []byte) clientFrame {
	return clientFrame{RealtimeInput: &realtimeInput{
		MediaChunks: []blob{{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(pcm)}},
	}}
}

// Server frames.

type serverFrame struct {
	SetupComplete json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent  `json:"serverContent,omitempty"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	InputTranscription  *text    `json:"inputTranscription,omitempty"`
	OutputTranscription *text    `json:"outputTranscription,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

// messages flattens one serverContent into agent messages. Transcripts come
// first so a turn's last fragment lands before the turnComplete it rides with.
func (sc *serverContent) messages(outputRate int) []agent.Message {
	var out []agent.Message
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out = append(out, agent.Message{Kind: agent.MessageTranscript, Speaker: agent.SpeakerStudent, Text: t.Text})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out = append(out, agent.Message{Kind: agent.MessageTranscript, Speaker: agent.SpeakerAgent, Text: t.Text})
	}
	if sc.TurnComplete {
		out = append(out, agent.Message{Kind: agent.MessageTurnComplete})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			out = append(out, agent.Message{Kind: agent.MessageAudio, Audio: pcm, SampleRate: outputRate})
		}
	}
	if sc.Interrupted {
		out = append(out, agent.Message{Kind: agent.MessageInterrupted})
	}
	return out
}
