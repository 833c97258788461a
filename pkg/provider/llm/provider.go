// Package llm defines the Provider interface for text-completion backends
// used to grade finished exam transcripts.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// a local Ollama instance, ...) and exposes a single blocking completion call.
// When a request carries a [Schema], providers that support structured output
// constrain the reply to it; the rest receive the schema as part of the prompt
// and callers must tolerate fenced or prefixed JSON.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
)

// Message is one turn of the prompt conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Schema names a JSON Schema the reply must conform to.
type Schema struct {
	// Name identifies the schema to the backend, e.g. "assessment_report".
	Name string

	// Definition is the JSON Schema object.
	Definition map[string]any
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// Messages.
	SystemPrompt string

	// Messages is the ordered prompt conversation.
	Messages []Message

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// Schema, when non-nil, requests a JSON object conforming to it.
	Schema *Schema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
//
// Implementations must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
