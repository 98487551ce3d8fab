// Package llm defines the Provider interface for text and vision completion
// backends.
//
// voxnav uses completion models in two places: the remote command parser,
// which asks for a single JSON action, and the page describer, which sends a
// screenshot as an image part. Both are one-shot request/response calls, so
// the interface has no streaming or tool-calling surface.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrVisionUnsupported is returned by providers whose backend cannot accept
// image parts.
var ErrVisionUnsupported = errors.New("llm: provider does not support image input")

// Role values for [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string

	// Images are attached to user messages for vision requests.
	Images []Image
}

// Image is an image part of a user message.
type Image struct {
	// URL is either an https URL or a base64 data URL
	// ("data:image/png;base64,...").
	URL string

	// Detail is an optional fidelity hint ("auto", "low", "high").
	Detail string
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest holds the parameters for a completion.
type CompletionRequest struct {
	// Messages is the ordered conversation, without the system prompt.
	Messages []Message

	// SystemPrompt, when non-empty, is sent as the leading system message.
	SystemPrompt string

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a JSON object where
	// supported. Callers must still validate the reply.
	JSONMode bool
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// FinishReason is the provider's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// ModelCapabilities describes what the configured model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate at once.
	MaxOutputTokens int

	// SupportsVision reports whether image parts are accepted.
	SupportsVision bool

	// SupportsJSONMode reports whether [CompletionRequest.JSONMode] is honoured.
	SupportsJSONMode bool
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and blocks until the full response is available or
	// ctx is cancelled. Transport failures and non-2xx responses are returned
	// as errors.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities reports static properties of the configured model.
	Capabilities() ModelCapabilities
}

// HasImages reports whether any message in req carries an image part.
func (req CompletionRequest) HasImages() bool {
	for _, m := range req.Messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}
