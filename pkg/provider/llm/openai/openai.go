// Package openai grades transcripts through the OpenAI Chat Completions API.
//
// Requests that carry a schema are sent with a strict json_schema response
// format, so the reply always decodes into the requested shape. Any server
// speaking the same wire protocol can be targeted with [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/echolabs/oralexam/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Option adjusts the client built by New.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at another API root.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// Provider is a chat-completions grader for a single model.
type Provider struct {
	client oai.Client
	model  shared.ChatModel
}

// New returns a Provider for model. Grading is a one-shot call so the SDK
// retries at most once.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	for _, opt := range opts {
		opt(&ro)
	}
	return &Provider{client: oai.NewClient(ro...), model: shared.ChatModel(model)}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: complete with %s: %w", p.model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: reply has no choices")
	}
	msg := completion.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("openai: refused: %s", msg.Refusal)
	}

	u := completion.Usage
	return &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, converted)
	}
	if len(msgs) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: empty prompt")
	}

	params := oai.ChatCompletionNewParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if s := req.Schema; s != nil {
		params.ResponseFormat.OfJSONSchema = &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   s.Name,
				Schema: s.Definition,
				Strict: param.NewOpt(true),
			},
		}
	}
	return params, nil
}

var roleMessages = map[string]func(string) oai.ChatCompletionMessageParamUnion{
	"system": func(s string) oai.ChatCompletionMessageParamUnion { return oai.SystemMessage(s) },
	"user":   func(s string) oai.ChatCompletionMessageParamUnion { return oai.UserMessage(s) },
	"assistant": func(s string) oai.ChatCompletionMessageParamUnion {
		return oai.AssistantMessage(s)
	},
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	mk, ok := roleMessages[m.Role]
	if !ok {
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported role %q", m.Role)
	}
	return mk(m.Content), nil
}
