// Package observe provides application-wide observability primitives for
// Vocifer: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Vocifer metrics.
const meterName = "github.com/vocifer/vocifer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SegmentDuration tracks the spoken length of finished speech segments,
	// from promotion to finalization.
	SegmentDuration metric.Float64Histogram

	// RecognitionDuration tracks speech-to-text latency per segment.
	RecognitionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackWait tracks how long queued playback items waited before their
	// audio started playing.
	PlaybackWait metric.Float64Histogram

	// --- Counters ---

	// Segments counts finished speech segments. Use with attributes:
	//   attribute.String("status", "finished"|"aborted")
	Segments metric.Int64Counter

	// Recognitions counts transcription outcomes. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	Recognitions metric.Int64Counter

	// PlaybackSkips counts playback items skipped without playing. Use with
	// attribute:
	//   attribute.String("reason", "error"|"timeout")
	PlaybackSkips metric.Int64Counter

	// Reconnects counts voice connection recovery attempts. Use with
	// attribute:
	//   attribute.String("outcome", "recovered"|"rejoined"|"failed")
	Reconnects metric.Int64Counter

	// WorkerRelaunches counts recognition browser process relaunches. Use
	// with attribute:
	//   attribute.String("worker", ...)
	WorkerRelaunches metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live voice connections.
	ActiveCalls metric.Int64UpDownCounter

	// ActiveWorkers tracks the number of recognition workers that are up.
	ActiveWorkers metric.Int64UpDownCounter

	// QueuedSegments tracks segments waiting in recognition worker queues.
	QueuedSegments metric.Int64UpDownCounter

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

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("vocifer.segment.duration",
		metric.WithDescription("Spoken length of finished speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("vocifer.recognition.duration",
		metric.WithDescription("Latency of speech-to-text transcription per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("vocifer.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackWait, err = m.Float64Histogram("vocifer.playback.wait",
		metric.WithDescription("Time playback items spent queued before playing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("vocifer.segments",
		metric.WithDescription("Total finished speech segments by status."),
	); err != nil {
		return nil, err
	}
	if met.Recognitions, err = m.Int64Counter("vocifer.recognitions",
		metric.WithDescription("Total transcription outcomes by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSkips, err = m.Int64Counter("vocifer.playback.skips",
		metric.WithDescription("Total playback items skipped without playing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("vocifer.reconnects",
		metric.WithDescription("Total voice connection recovery attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.WorkerRelaunches, err = m.Int64Counter("vocifer.worker.relaunches",
		metric.WithDescription("Total recognition browser relaunches by worker."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("vocifer.active_calls",
		metric.WithDescription("Number of live voice connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("vocifer.active_workers",
		metric.WithDescription("Number of recognition workers that are up."),
	); err != nil {
		return nil, err
	}
	if met.QueuedSegments, err = m.Int64UpDownCounter("vocifer.queued_segments",
		metric.WithDescription("Segments waiting in recognition worker queues."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocifer.http.request.duration",
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

// RecordSegment records one finished segment with its spoken duration.
func (m *Metrics) RecordSegment(ctx context.Context, status string, seconds float64) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	if status == "finished" {
		m.SegmentDuration.Record(ctx, seconds)
	}
}

// RecordRecognition records one transcription outcome.
func (m *Metrics) RecordRecognition(ctx context.Context, engine, status string, seconds float64) {
	m.Recognitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
	m.RecognitionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}

// RecordPlaybackSkip records one skipped playback item.
func (m *Metrics) RecordPlaybackSkip(ctx context.Context, reason string) {
	m.PlaybackSkips.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordReconnect records one connection recovery attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordWorkerRelaunch records one browser process relaunch.
func (m *Metrics) RecordWorkerRelaunch(ctx context.Context, worker string) {
	m.WorkerRelaunches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("worker", worker)),
	)
}
