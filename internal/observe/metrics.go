// Package observe provides application-wide observability primitives for
// opsvox: OpenTelemetry metrics, lightweight tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the local ops endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all opsvox metrics.
const meterName = "github.com/opsvox/opsvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dial start to an open channel,
	// including failed attempts (use the "status" attribute to separate them).
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ConnectAttempts counts channel connect attempts. Use with attribute:
	//   attribute.String("status", "open"|"timeout"|"error")
	ConnectAttempts metric.Int64Counter

	// Reconnects counts automatic reconnections after abnormal closure.
	Reconnects metric.Int64Counter

	// FramesSent counts outbound audio frames written to the channel.
	FramesSent metric.Int64Counter

	// FramesDropped counts captured frames discarded because the channel
	// was not open.
	FramesDropped metric.Int64Counter

	// MessagesReceived counts inbound messages by kind. Use with attribute:
	//   attribute.String("kind", "media"|"text"|"stop")
	MessagesReceived metric.Int64Counter

	// MalformedMessages counts inbound messages that failed to parse and
	// were dropped.
	MalformedMessages metric.Int64Counter

	// TranscriptEntries counts transcript entries by speaker. Use with
	// attribute: attribute.String("speaker", "user"|"agent")
	TranscriptEntries metric.Int64Counter

	// --- Gauges ---

	// EngagedSessions tracks whether a streaming session is currently
	// engaged (0 or 1 for this single-session client).
	EngagedSessions metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks the number of audio blocks waiting in the
	// render queue.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops endpoint request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection establishment latencies.
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
	if met.ConnectDuration, err = m.Float64Histogram("opsvox.connect.duration",
		metric.WithDescription("Latency of duplex channel connect attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectAttempts, err = m.Int64Counter("opsvox.connect.attempts",
		metric.WithDescription("Total channel connect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("opsvox.reconnects",
		metric.WithDescription("Total automatic reconnections after abnormal closure."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("opsvox.frames.sent",
		metric.WithDescription("Total outbound audio frames written to the channel."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("opsvox.frames.dropped",
		metric.WithDescription("Total captured frames dropped while the channel was closed."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("opsvox.messages.received",
		metric.WithDescription("Total inbound messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.MalformedMessages, err = m.Int64Counter("opsvox.messages.malformed",
		metric.WithDescription("Total inbound messages dropped because they failed to parse."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("opsvox.transcript.entries",
		metric.WithDescription("Total transcript entries by speaker."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EngagedSessions, err = m.Int64UpDownCounter("opsvox.engaged_sessions",
		metric.WithDescription("Number of currently engaged streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("opsvox.playback.queue_depth",
		metric.WithDescription("Number of audio blocks waiting in the render queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("opsvox.http.request.duration",
		metric.WithDescription("Ops endpoint request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordConnectAttempt records one connect attempt with its outcome and
// latency.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ConnectAttempts.Add(ctx, 1, attrs)
	m.ConnectDuration.Record(ctx, seconds, attrs)
}

// RecordMessageReceived records one inbound message of the given kind.
func (m *Metrics) RecordMessageReceived(ctx context.Context, kind string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTranscriptEntry records one transcript entry for the given speaker.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}
