// Package remote implements the model-backed command parser.
//
// The [Parser] sends the transcript to an [llm.Provider] together with the
// action schema and decodes the single JSON object it answers with. Whatever
// goes wrong (transport failure, open circuit, malformed or unknown reply)
// the transcript is handed to the rule parser instead, so callers always get
// an action back and never see an error.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxnav/internal/action"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/parse/rules"
	"github.com/MrWong99/voxnav/internal/resilience"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 256
	defaultTimeout     = 10 * time.Second
)

// Source tells where a parsed action came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceRules  Source = "rules"
)

// Fallback reasons, used as the metric attribute and log field.
const (
	ReasonUpstreamError = "upstream_error"
	ReasonCircuitOpen   = "circuit_open"
	ReasonInvalidJSON   = "invalid_json"
	ReasonUnknownAction = "unknown_action"
	ReasonEmpty         = "empty_transcript"
)

// Result is the detailed outcome of a parse.
type Result struct {
	Action action.Action
	Source Source
	// Reason is set when Source is SourceRules.
	Reason string
	// Raw is the model's reply, when there was one.
	Raw string
}

// Option is a functional option for [Parser].
type Option func(*Parser)

// WithSystemPrompt replaces the default schema prompt.
func WithSystemPrompt(prompt string) Option {
	return func(p *Parser) {
		p.systemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) Option {
	return func(p *Parser) {
		p.temperature = t
	}
}

// WithTimeout bounds each model call. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Parser) {
		p.timeout = d
	}
}

// WithMetrics records fallbacks and provider calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Parser) {
		p.metrics = m
	}
}

// WithFallback replaces the rule parser used on failure.
func WithFallback(fn func(string) action.Action) Option {
	return func(p *Parser) {
		p.fallback = fn
	}
}

// Parser is safe for concurrent use.
type Parser struct {
	llm          llm.Provider
	systemPrompt string
	temperature  float64
	timeout      time.Duration
	metrics      *observe.Metrics
	fallback     func(string) action.Action
}

// New returns a Parser that asks provider first.
func New(provider llm.Provider, opts ...Option) *Parser {
	p := &Parser{
		llm:          provider,
		systemPrompt: action.SchemaPrompt(),
		temperature:  defaultTemperature,
		timeout:      defaultTimeout,
		fallback:     rules.Parse,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse implements parse.Parser.
func (p *Parser) Parse(ctx context.Context, transcript string) action.Action {
	return p.ParseDetailed(ctx, transcript, "").Action
}

// ParseDetailed parses transcript and reports which parser answered.
// A non-empty systemPrompt overrides the configured one for this call.
func (p *Parser) ParseDetailed(ctx context.Context, transcript, systemPrompt string) Result {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return p.fallBack(ctx, transcript, ReasonEmpty, "", nil)
	}
	if systemPrompt == "" {
		systemPrompt = p.systemPrompt
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	callCtx, span := observe.StartSpan(callCtx, "remote.Parse")
	start := time.Now()
	resp, err := p.llm.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		Temperature:  p.temperature,
		MaxTokens:    defaultMaxTokens,
		JSONMode:     true,
	})
	if err == nil && resp == nil {
		err = errors.New("remote: empty response")
	}
	observe.EndSpan(span, err)
	if p.metrics != nil {
		p.metrics.RecordProviderCall(ctx, "llm", "parse", time.Since(start), err)
	}
	if err != nil {
		reason := ReasonUpstreamError
		if errors.Is(err, resilience.ErrOpen) {
			reason = ReasonCircuitOpen
		}
		return p.fallBack(ctx, transcript, reason, "", err)
	}

	a, err := decode(resp.Content)
	if err != nil {
		return p.fallBack(ctx, transcript, ReasonInvalidJSON, resp.Content, err)
	}
	if a.Kind == action.Unknown {
		return p.fallBack(ctx, transcript, ReasonUnknownAction, resp.Content, nil)
	}

	observe.Logger(ctx).Debug("remote: parsed", "transcript", transcript, "action", a.String())
	return Result{Action: a, Source: SourceRemote, Raw: resp.Content}
}

func (p *Parser) fallBack(ctx context.Context, transcript, reason, raw string, err error) Result {
	if p.metrics != nil {
		p.metrics.RecordParseFallback(ctx, reason)
	}
	if reason != ReasonEmpty {
		observe.Logger(ctx).Warn("remote: falling back to rules",
			"reason", reason, "transcript", transcript, "err", err)
	}
	return Result{Action: p.fallback(transcript), Source: SourceRules, Reason: reason, Raw: raw}
}

// decode parses a model reply into an action. The reply may be wrapped in
// markdown fences or surrounded by prose; in that case the first balanced
// JSON object is used.
func decode(content string) (action.Action, error) {
	cleaned := stripMarkdown(content)

	var a action.Action
	err := json.Unmarshal([]byte(cleaned), &a)
	if err == nil {
		return a.Normalize(), nil
	}
	if errors.Is(err, action.ErrMissingAction) {
		return action.Action{}, err
	}

	obj, ok := firstObject(cleaned)
	if !ok {
		return action.Action{}, fmt.Errorf("remote: no JSON object in reply: %w", err)
	}
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return action.Action{}, fmt.Errorf("remote: decode reply: %w", err)
	}
	return a.Normalize(), nil
}

// stripMarkdown removes a surrounding ``` or ```json fence.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} substring of s. Braces inside
// JSON strings, including escaped quotes, do not count.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
