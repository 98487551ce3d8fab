// Package openai talks to the OpenAI Chat Completions API directly.
//
// voxnav prefers it over the any-llm bridge for OpenAI models because the
// page describer sends screenshots as image parts, and because
// [WithBaseURL] lets the same code reach Azure deployments, vLLM or a local
// proxy that speaks the OpenAI wire format.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/voxnav/pkg/provider/llm"
)

// Provider is an [llm.Provider] for one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
	retries      *int
}

// Option tunes [New].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible endpoint, e.g.
// "http://localhost:8000/v1".
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP round trip, retries included.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries overrides the SDK's retry count. Zero disables retries,
// which the remote parser wants when a circuit breaker sits in front.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.retries = &n }
}

// New returns a Provider for model. apiKey may not be empty even for
// keyless local servers; pass any placeholder there.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}

	var s settings
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.retries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*s.retries))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   capabilitiesFor(model),
	}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if req.HasImages() && !p.caps.SupportsVision {
		return nil, fmt.Errorf("openai: %s: %w", p.model, llm.ErrVisionUnsupported)
	}
	params, err := p.request(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s: response has no choices", p.model)
	}

	first := completion.Choices[0]
	u := completion.Usage
	return &llm.CompletionResponse{
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.caps
}

// family describes the models whose lowercase name starts with prefix.
// Entries are checked in order, so longer prefixes come first.
type family struct {
	prefix  string
	context int
	output  int
	vision  bool
}

var families = []family{
	{prefix: "gpt-5", context: 400_000, output: 128_000, vision: true},
	{prefix: "gpt-4o", context: 128_000, output: 16_384, vision: true},
	{prefix: "gpt-4.1", context: 128_000, output: 16_384, vision: true},
	{prefix: "gpt-4-turbo", context: 128_000, output: 4_096, vision: true},
	{prefix: "gpt-4", context: 8_192, output: 4_096},
	{prefix: "gpt-3.5-turbo", context: 16_385, output: 4_096},
	{prefix: "o1-mini", context: 200_000, output: 65_536},
	{prefix: "o3-mini", context: 200_000, output: 65_536},
	{prefix: "o1", context: 200_000, output: 100_000, vision: true},
	{prefix: "o3", context: 200_000, output: 100_000, vision: true},
	{prefix: "o4", context: 200_000, output: 100_000, vision: true},
}

// capabilitiesFor looks model up in families. Unknown models, which is
// what most compatible servers report, get a text-only 128k default.
func capabilitiesFor(model string) llm.ModelCapabilities {
	name := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(name, f.prefix) {
			return llm.ModelCapabilities{
				ContextWindow:    f.context,
				MaxOutputTokens:  f.output,
				SupportsVision:   f.vision,
				SupportsJSONMode: true,
			}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}
}

func (p *Provider) request(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		msg, err := toMessage(m)
		if err != nil {
			return params, fmt.Errorf("openai: message %d: %w", i, err)
		}
		params.Messages = append(params.Messages, msg)
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}
	return params, nil
}

// toMessage maps one turn onto the SDK union. A user turn with images is
// sent as content parts: the text first, then each image.
func toMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	case llm.RoleUser:
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", m.Role)
	}

	if len(m.Images) == 0 {
		return oai.UserMessage(m.Content), nil
	}
	var parts []oai.ChatCompletionContentPartUnionParam
	if m.Content != "" {
		parts = append(parts, oai.TextContentPart(m.Content))
	}
	for _, img := range m.Images {
		if img.URL == "" {
			return oai.ChatCompletionMessageParamUnion{}, errors.New("image part has no URL")
		}
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL:    img.URL,
			Detail: img.Detail,
		}))
	}
	return oai.UserMessage(parts), nil
}
