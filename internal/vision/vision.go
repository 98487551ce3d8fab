// Package vision describes a screenshot of the page with a vision-capable
// LLM.
package vision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
)

var (
	// ErrMissingImage is returned for empty image data.
	ErrMissingImage = errors.New("Missing imageData")

	// ErrUnavailable wraps every failure of the vision provider.
	ErrUnavailable = errors.New("vision: service unavailable")
)

// Prompt asks for a description that is useful to someone who cannot see
// the screen.
const Prompt = `Analyze this image in detail. Provide:
1. A clear description of what you see
2. Any text visible in the image (OCR)
3. Key objects or elements
4. Context or meaning if relevant
5. Any accessibility-relevant information

Be concise but thorough.`

// NoDescription is returned when the model answers with nothing.
const NoDescription = "No description generated."

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
	defaultTimeout     = 60 * time.Second
)

var dataURLPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// Option configures a [Describer].
type Option func(*Describer)

// WithTimeout bounds each Describe call. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(v *Describer) { v.timeout = d }
}

// WithMetrics records provider calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Describer) { v.metrics = m }
}

// Describer turns screenshots into text.
type Describer struct {
	provider llm.Provider
	timeout  time.Duration
	metrics  *observe.Metrics
}

// New returns a Describer backed by provider, which must support vision.
func New(provider llm.Provider, opts ...Option) *Describer {
	d := &Describer{provider: provider, timeout: defaultTimeout}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Describe returns a description of the image. imageData is a data URL or
// bare base64, which is taken to be PNG.
func (d *Describer) Describe(ctx context.Context, imageData string) (string, error) {
	url, err := NormalizeImage(imageData)
	if err != nil {
		return "", err
	}
	if d.provider == nil {
		return "", fmt.Errorf("%w: no vision provider configured", ErrUnavailable)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "vision.Describe")
	start := time.Now()
	resp, err := d.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: Prompt,
			Images:  []llm.Image{{URL: url}},
		}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	observe.EndSpan(span, err)
	if d.metrics != nil {
		d.metrics.RecordProviderCall(ctx, "llm", "vision", time.Since(start), err)
	}
	if err != nil {
		observe.Logger(ctx).Error("vision: describe failed", "err", err)
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if resp == nil {
		return NoDescription, nil
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return NoDescription, nil
	}
	return text, nil
}

// NormalizeImage turns imageData into a data URL.
func NormalizeImage(imageData string) (string, error) {
	s := strings.TrimSpace(imageData)
	if s == "" {
		return "", ErrMissingImage
	}
	if dataURLPattern.MatchString(s) {
		return s, nil
	}
	if strings.HasPrefix(s, "data:") {
		return "", fmt.Errorf("vision: malformed data URL")
	}
	return "data:image/png;base64," + s, nil
}
