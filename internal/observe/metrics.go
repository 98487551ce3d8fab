// Package observe provides the observability primitives for voxnav:
// OpenTelemetry metrics exported to Prometheus, tracing, trace-aware slog
// loggers, and the HTTP middleware that ties them together.
//
// Tests should build their own [Metrics] with [NewMetrics] and a manual
// reader instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxnav"

// Metrics holds every instrument voxnav records. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// CommandDuration is end-to-end command latency, from transcript to
	// feedback message. Attributes: action, status.
	CommandDuration metric.Float64Histogram

	// Commands counts dispatched commands. Attributes: action, source, status.
	Commands metric.Int64Counter

	// ParseFallbacks counts remote parses answered by the rule parser.
	// Attribute: reason.
	ParseFallbacks metric.Int64Counter

	// ClickCandidates is the number of visible clickable elements per click
	// request.
	ClickCandidates metric.Int64Histogram

	// SpeechChunks counts chunk lifecycle events. Attribute: event.
	SpeechChunks metric.Int64Counter

	// ActiveSpeechSessions is 1 while a page is being read aloud.
	ActiveSpeechSessions metric.Int64UpDownCounter

	// ProviderRequests, ProviderErrors and ProviderDuration cover calls to
	// LLM and TTS backends. Attributes: provider, kind (and status on requests).
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	ProviderDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: name, to.
	BreakerTransitions metric.Int64Counter

	// EventClients is the number of connected event stream clients.
	EventClients metric.Int64UpDownCounter

	// HTTPRequestDuration is request latency. Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds. Commands that go through a remote model
// regularly take a second or two.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("voxnav.command.duration",
		metric.WithDescription("Latency of a voice command from transcript to feedback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("voxnav.commands",
		metric.WithDescription("Dispatched commands by action, parser source and status."),
	); err != nil {
		return nil, err
	}
	if met.ParseFallbacks, err = m.Int64Counter("voxnav.parse.fallbacks",
		metric.WithDescription("Remote parses answered by the rule parser, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ClickCandidates, err = m.Int64Histogram("voxnav.click.candidates",
		metric.WithDescription("Number of visible clickable elements per click request."),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	); err != nil {
		return nil, err
	}
	if met.SpeechChunks, err = m.Int64Counter("voxnav.speech.chunks",
		metric.WithDescription("Speech chunk events (started, ended, error, skipped)."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeechSessions, err = m.Int64UpDownCounter("voxnav.speech.sessions.active",
		metric.WithDescription("Pages currently being read aloud."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxnav.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxnav.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("voxnav.provider.duration",
		metric.WithDescription("Provider call latency by provider and kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxnav.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker name and target state."),
	); err != nil {
		return nil, err
	}
	if met.EventClients, err = m.Int64UpDownCounter("voxnav.events.clients",
		metric.WithDescription("Connected event stream clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxnav.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records one dispatched command.
func (m *Metrics) RecordCommand(ctx context.Context, action, source, status string, d time.Duration) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("source", source),
		attribute.String("status", status),
	))
	m.CommandDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

// RecordParseFallback records a remote parse answered by the rule parser.
func (m *Metrics) RecordParseFallback(ctx context.Context, reason string) {
	m.ParseFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSpeechChunk records a chunk lifecycle event.
func (m *Metrics) RecordSpeechChunk(ctx context.Context, event string) {
	m.SpeechChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordProviderCall records a provider request with its latency, and an
// error when err is non-nil.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}
