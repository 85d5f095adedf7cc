// Package observe provides the observability primitives for Quill:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider], which returns the [Metrics] the server and
// CLI pass down. Components built without one fall back to [DefaultMetrics],
// bound to the global meter provider. Tests use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Quill metrics.
const meterName = "github.com/MrWong99/quill"

// Metrics holds all OpenTelemetry instruments for the application. All
// fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// CorrectionDuration tracks end-to-end pipeline latency. Attribute:
	//   attribute.String("source", ...) (text, speech, batch, stream, cli)
	CorrectionDuration metric.Float64Histogram

	// RefineDuration tracks refinement latency including fallbacks.
	RefineDuration metric.Float64Histogram

	// SpeechDuration tracks speech recognition latency.
	SpeechDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// RefineFallbacks counts refinements that fell back to the rule-engine
	// output. Attribute: reason.
	RefineFallbacks metric.Int64Counter

	// RuleApplications counts rules that changed the text. Attribute: rule.
	RuleApplications metric.Int64Counter

	// BreakerTransitions counts circuit-breaker state changes. Attributes:
	// provider, to.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams is the number of open WebSocket correction streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request latency. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Rule-only corrections
// finish in microseconds; remote refinement takes up to the refine timeout.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CorrectionDuration, err = m.Float64Histogram("quill.correction.duration",
		metric.WithDescription("Latency of a full correction, rules through diff."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = m.Float64Histogram("quill.refine.duration",
		metric.WithDescription("Latency of remote refinement including fallbacks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("quill.speech.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("quill.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("quill.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RefineFallbacks, err = m.Int64Counter("quill.refine.fallbacks",
		metric.WithDescription("Refinements that fell back to the rule-engine output, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RuleApplications, err = m.Int64Counter("quill.rule.applications",
		metric.WithDescription("Rules that changed the text, by rule name."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("quill.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("quill.active_streams",
		metric.WithDescription("Number of open WebSocket correction streams."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("quill.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the exporting provider.
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

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordRefineFallback increments the fallback counter for reason.
func (m *Metrics) RecordRefineFallback(ctx context.Context, reason string) {
	m.RefineFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRuleApplications increments the rule counter once per name.
func (m *Metrics) RecordRuleApplications(ctx context.Context, rules []string) {
	for _, r := range rules {
		m.RuleApplications.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", r)))
	}
}

// RecordCorrection records the latency of one correction from source.
func (m *Metrics) RecordCorrection(ctx context.Context, source string, d time.Duration) {
	m.CorrectionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("source", source)))
}

// RecordBreakerTransition increments the breaker transition counter.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}
