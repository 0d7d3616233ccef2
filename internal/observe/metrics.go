// Package observe provides application-wide observability primitives for
// the dojo bridge: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/mytimedojo/bridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per backend ---

	// SynthesisDuration tracks speech synthesis latency per response.
	SynthesisDuration metric.Float64Histogram

	// ActorDuration tracks persona response generation latency.
	ActorDuration metric.Float64Histogram

	// StewardDuration tracks scoring service call latency.
	StewardDuration metric.Float64Histogram

	// SessionDuration tracks total scored session duration.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts outbound frames by kind ("control" or "audio").
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound control frames by action.
	FramesReceived metric.Int64Counter

	// BargeEvents counts operator barge transitions. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	BargeEvents metric.Int64Counter

	// SessionsScored counts completed scored sessions.
	SessionsScored metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts backend failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live bridge sessions.
	ActiveSessions metric.Int64UpDownCounter

	// LiveOperators tracks the number of operators currently barged in.
	LiveOperators metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram boundaries (in seconds) for whole-call
// durations.
var sessionBuckets = []float64{
	15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("dojobridge.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis per response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActorDuration, err = m.Float64Histogram("dojobridge.actor.duration",
		metric.WithDescription("Latency of persona response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StewardDuration, err = m.Float64Histogram("dojobridge.steward.duration",
		metric.WithDescription("Latency of scoring service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("dojobridge.session.duration",
		metric.WithDescription("Total duration of scored sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("dojobridge.frames.sent",
		metric.WithDescription("Total outbound frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("dojobridge.frames.received",
		metric.WithDescription("Total inbound control frames by action."),
	); err != nil {
		return nil, err
	}
	if met.BargeEvents, err = m.Int64Counter("dojobridge.barge.events",
		metric.WithDescription("Total operator barge transitions by direction."),
	); err != nil {
		return nil, err
	}
	if met.SessionsScored, err = m.Int64Counter("dojobridge.sessions.scored",
		metric.WithDescription("Total completed scored sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("dojobridge.backend.errors",
		metric.WithDescription("Total backend errors by backend and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dojobridge.active_sessions",
		metric.WithDescription("Number of live bridge sessions."),
	); err != nil {
		return nil, err
	}
	if met.LiveOperators, err = m.Int64UpDownCounter("dojobridge.live_operators",
		metric.WithDescription("Number of operators currently barged in."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dojobridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent records an outbound frame counter increment.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFrameReceived records an inbound control frame counter increment.
func (m *Metrics) RecordFrameReceived(ctx context.Context, action string) {
	m.FramesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordBarge records an operator barge transition.
func (m *Metrics) RecordBarge(ctx context.Context, direction string) {
	m.BargeEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordBackendError records a backend error counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}
