// Package observe provides application-wide observability primitives for
// ledgerlens: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ledgerlens metrics.
const meterName = "github.com/nventro/ledgerlens"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EmbeddingDuration tracks embedding provider call latency, single and
	// batched alike. Use with attribute.String("mode", "single"|"batch").
	EmbeddingDuration metric.Float64Histogram

	// PredictionDuration tracks end-to-end single prediction latency
	// (normalize + embed + rank + classify).
	PredictionDuration metric.Float64Histogram

	// ExplanationDuration tracks text-generation latency for explanations.
	ExplanationDuration metric.Float64Histogram

	// --- Counters ---

	// Predictions counts completed predictions. Use with attribute:
	//   attribute.String("tier", ...)
	Predictions metric.Int64Counter

	// BulkItems counts per-item bulk outcomes. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"canceled")
	BulkItems metric.Int64Counter

	// RankingSkips counts labels excluded from a ranking pass. Use with
	// attribute: attribute.String("reason", ...)
	RankingSkips metric.Int64Counter

	// FeedbackRecorded counts accepted human corrections.
	FeedbackRecorded metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// LiveLabels tracks the number of labels currently live in the taxonomy.
	LiveLabels metric.Int64UpDownCounter

	// ActiveBulkJobs tracks the number of bulk classification jobs in flight.
	ActiveBulkJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// embedding-API round trips: tens of milliseconds locally, a few seconds for
// remote providers under load.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EmbeddingDuration, err = m.Float64Histogram("ledgerlens.embedding.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PredictionDuration, err = m.Float64Histogram("ledgerlens.prediction.duration",
		metric.WithDescription("End-to-end single prediction latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExplanationDuration, err = m.Float64Histogram("ledgerlens.explanation.duration",
		metric.WithDescription("Latency of explanation text generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Predictions, err = m.Int64Counter("ledgerlens.predictions",
		metric.WithDescription("Total completed predictions by confidence tier."),
	); err != nil {
		return nil, err
	}
	if met.BulkItems, err = m.Int64Counter("ledgerlens.bulk.items",
		metric.WithDescription("Total bulk prediction items by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.RankingSkips, err = m.Int64Counter("ledgerlens.ranking.skips",
		metric.WithDescription("Labels excluded from ranking by reason."),
	); err != nil {
		return nil, err
	}
	if met.FeedbackRecorded, err = m.Int64Counter("ledgerlens.feedback.recorded",
		metric.WithDescription("Total accepted human corrections."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("ledgerlens.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LiveLabels, err = m.Int64UpDownCounter("ledgerlens.labels.live",
		metric.WithDescription("Number of labels currently live in the taxonomy."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBulkJobs, err = m.Int64UpDownCounter("ledgerlens.bulk.active_jobs",
		metric.WithDescription("Number of bulk classification jobs in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ledgerlens.http.request.duration",
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

// RecordPrediction records a completed prediction with its tier and latency.
func (m *Metrics) RecordPrediction(ctx context.Context, tier string, d time.Duration) {
	m.Predictions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	m.PredictionDuration.Record(ctx, d.Seconds())
}

// RecordEmbedding records an embedding call's latency.
func (m *Metrics) RecordEmbedding(ctx context.Context, mode string, d time.Duration) {
	m.EmbeddingDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordBulkItem records one bulk item outcome.
func (m *Metrics) RecordBulkItem(ctx context.Context, status string) {
	m.BulkItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRankingSkip records a label excluded from a ranking pass.
func (m *Metrics) RecordRankingSkip(ctx context.Context, reason string) {
	m.RankingSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
