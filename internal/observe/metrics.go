// Package observe provides application-wide observability primitives for
// livevoice: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livevoice metrics.
const meterName = "github.com/gastromaster/livevoice"

// Capture frame statuses.
const (
	FrameEncoded = "encoded"
	FrameDropped = "dropped"
	FrameFailed  = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// CaptureFrames counts microphone frames. Use with attribute:
	//   attribute.String("status", FrameEncoded|FrameDropped|FrameFailed)
	CaptureFrames metric.Int64Counter

	// ChunksSent counts encoded chunks accepted by the transport.
	ChunksSent metric.Int64Counter

	// --- Transport ---

	// InboundMessages counts decoded remote messages. Use with attribute:
	//   attribute.String("kind", ...)
	InboundMessages metric.Int64Counter

	// TransportErrors counts channel failures. Use with attribute:
	//   attribute.String("op", ...)
	TransportErrors metric.Int64Counter

	// ConnectDuration tracks the time from Connect to OnOpen.
	ConnectDuration metric.Float64Histogram

	// --- Playback ---

	// PlaybackBuffers counts buffers handed to the output device.
	PlaybackBuffers metric.Int64Counter

	// PlaybackGap tracks silence inserted because the device clock overtook
	// the playback cursor.
	PlaybackGap metric.Float64Histogram

	// ScheduleLead tracks how far ahead of the device clock each buffer was
	// scheduled.
	ScheduleLead metric.Float64Histogram

	// --- Sessions ---

	// SessionDuration tracks how long sessions stayed open.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and scheduling latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers conversations from a few seconds to an hour.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CaptureFrames, err = m.Int64Counter("livevoice.capture.frames",
		metric.WithDescription("Microphone frames by status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("livevoice.capture.chunks_sent",
		metric.WithDescription("Encoded chunks accepted by the transport."),
	); err != nil {
		return nil, err
	}
	if met.InboundMessages, err = m.Int64Counter("livevoice.transport.inbound",
		metric.WithDescription("Remote messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("livevoice.transport.errors",
		metric.WithDescription("Transport failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffers, err = m.Int64Counter("livevoice.playback.buffers",
		metric.WithDescription("Buffers scheduled on the output device."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("livevoice.transport.connect.duration",
		metric.WithDescription("Time from connect to the channel opening."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackGap, err = m.Float64Histogram("livevoice.playback.gap",
		metric.WithDescription("Silence inserted when playback stalled."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("livevoice.playback.lead",
		metric.WithDescription("Distance between the device clock and a buffer's start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("livevoice.session.duration",
		metric.WithDescription("Lifetime of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevoice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livevoice.http.request.duration",
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

// RecordCaptureFrame counts one microphone frame with the given status.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, status string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordInbound counts one remote message of the given kind.
func (m *Metrics) RecordInbound(ctx context.Context, kind string) {
	m.InboundMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTransportError counts one channel failure for op.
func (m *Metrics) RecordTransportError(ctx context.Context, op string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
