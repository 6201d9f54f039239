// Package observe provides application-wide observability primitives for
// cwrite: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all cwrite metrics.
const meterName = "github.com/liutong011025-cloud/CwritevV7"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CheckDuration tracks a whole grammar check: model call plus location.
	CheckDuration metric.Float64Histogram

	// LLMDuration tracks model inference latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// CheckRequests counts grammar checks. Use with attribute:
	//   attribute.String("status", ...): ok, error, stale
	CheckRequests metric.Int64Counter

	// RecordsDropped counts records or occurrences discarded by a pipeline
	// stage. Use with attribute:
	//   attribute.String("stage", ...): extract, normalize, dedupe, locate, arbitrate
	RecordsDropped metric.Int64Counter

	// CorrectionsFound counts corrections produced by checks.
	CorrectionsFound metric.Int64Counter

	// CorrectionsApplied counts corrections applied to session buffers.
	CorrectionsApplied metric.Int64Counter

	// StaleResponses counts check results discarded because a newer request
	// or edit superseded them.
	StaleResponses metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open document sessions.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected session event streams.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote model calls, which routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CheckDuration, err = m.Float64Histogram("cwrite.check.duration",
		metric.WithDescription("Latency of a grammar check."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cwrite.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CheckRequests, err = m.Int64Counter("cwrite.check.requests",
		metric.WithDescription("Total grammar checks by status."),
	); err != nil {
		return nil, err
	}
	if met.RecordsDropped, err = m.Int64Counter("cwrite.proofread.dropped",
		metric.WithDescription("Error records or occurrences dropped, by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsFound, err = m.Int64Counter("cwrite.corrections.found",
		metric.WithDescription("Total corrections located by grammar checks."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsApplied, err = m.Int64Counter("cwrite.corrections.applied",
		metric.WithDescription("Total corrections applied to document buffers."),
	); err != nil {
		return nil, err
	}
	if met.StaleResponses, err = m.Int64Counter("cwrite.check.stale",
		metric.WithDescription("Check results discarded as stale."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("cwrite.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("cwrite.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cwrite.sessions.active",
		metric.WithDescription("Number of open document sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("cwrite.events.subscribers",
		metric.WithDescription("Number of connected session event streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cwrite.http.request.duration",
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

// RecordCheck records one finished check with its status.
func (m *Metrics) RecordCheck(ctx context.Context, status string, seconds float64) {
	m.CheckRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if seconds > 0 {
		m.CheckDuration.Record(ctx, seconds)
	}
}

// RecordDropped adds n to the dropped counter of stage. Zero is ignored.
func (m *Metrics) RecordDropped(ctx context.Context, stage string, n int) {
	if n <= 0 {
		return
	}
	m.RecordsDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
