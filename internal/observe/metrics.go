// Package observe provides application-wide observability primitives for
// the capture engine: OpenTelemetry metrics, distributed tracing, structured
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

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/echonote/engine"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TaskDuration tracks end-to-end transcription task processing latency.
	TaskDuration metric.Float64Histogram

	// SegmentLatency tracks per-segment latency in the realtime recording
	// pipeline (capture -> VAD -> speech engine -> translation).
	SegmentLatency metric.Float64Histogram

	// TranslateDuration tracks cloud translation engine call latency.
	TranslateDuration metric.Float64Histogram

	// SchedulerTickDuration tracks how long a single auto-task scheduler tick
	// takes to evaluate all configured rules.
	SchedulerTickDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts speech/translation engine calls. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind",
	// ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TaskOutcomes counts completed transcription tasks by outcome. Use with
	// attribute: attribute.String("outcome", ...) — one of "completed",
	// "failed", "cancelled".
	TaskOutcomes metric.Int64Counter

	// SchedulerActions counts auto-task scheduler start/stop decisions. Use
	// with attribute: attribute.String("action", ...) — "start" or "stop".
	SchedulerActions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	// attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of pending + in-progress tasks in the task
	// queue.
	QueueDepth metric.Int64UpDownCounter

	// ActiveRecordings tracks the number of currently running realtime
	// recordings.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path",
	// ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-segment realtime latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// taskBuckets defines histogram bucket boundaries (in seconds) for
// end-to-end transcription task processing, which spans minutes for long
// recordings rather than the sub-second range of a realtime segment.
var taskBuckets = []float64{
	1, 5, 15, 30, 60, 300, 900, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TaskDuration, err = m.Float64Histogram("echonote.task.duration",
		metric.WithDescription("End-to-end processing latency of a transcription task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(taskBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentLatency, err = m.Float64Histogram("echonote.segment.latency",
		metric.WithDescription("Latency of a single realtime segment through capture, VAD, speech, and translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("echonote.translate.duration",
		metric.WithDescription("Latency of a cloud translation engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SchedulerTickDuration, err = m.Float64Histogram("echonote.scheduler.tick_duration",
		metric.WithDescription("Latency of a single auto-task scheduler evaluation tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("echonote.provider.requests",
		metric.WithDescription("Total speech/translation engine requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.TaskOutcomes, err = m.Int64Counter("echonote.task.outcomes",
		metric.WithDescription("Total completed transcription tasks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SchedulerActions, err = m.Int64Counter("echonote.scheduler.actions",
		metric.WithDescription("Total auto-task scheduler start/stop decisions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("echonote.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("echonote.queue.depth",
		metric.WithDescription("Number of pending and in-progress tasks in the task queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("echonote.active_recordings",
		metric.WithDescription("Number of currently running realtime recordings."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("echonote.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordTaskOutcome is a convenience method that records a task outcome
// counter increment.
func (m *Metrics) RecordTaskOutcome(ctx context.Context, outcome string) {
	m.TaskOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSchedulerAction is a convenience method that records a scheduler
// start/stop decision.
func (m *Metrics) RecordSchedulerAction(ctx context.Context, action string) {
	m.SchedulerActions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
