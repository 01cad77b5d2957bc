// Package observe provides application-wide observability primitives for
// realtime-telemetry: OpenTelemetry metrics, distributed tracing, structured
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

// meterName is the instrumentation scope name used for all
// realtime-telemetry metrics.
const meterName = "github.com/MrWong99/realtime-telemetry"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Ingest API ---

	// IngestDuration tracks event/audio-chunk ingest request latency.
	IngestDuration metric.Float64Histogram

	// EventsIngested counts ingested realtime events by call and event type.
	EventsIngested metric.Int64Counter

	// AudioChunksIngested counts ingested audio chunks.
	AudioChunksIngested metric.Int64Counter

	// IngestRejected counts requests rejected at the ingest boundary (bad
	// body, auth failure) by reason.
	IngestRejected metric.Int64Counter

	// --- Alerts ---

	// AlertsFired counts alerts fired by type and severity.
	AlertsFired metric.Int64Counter

	// AlertsSuppressed counts alerts suppressed by the cooldown window.
	AlertsSuppressed metric.Int64Counter

	// --- SSE streaming ---

	// ActiveSSESubscribers tracks the number of currently connected SSE
	// subscribers across all calls.
	ActiveSSESubscribers metric.Int64UpDownCounter

	// SSEEventsPublished counts events published to the event bus.
	SSEEventsPublished metric.Int64Counter

	// --- Genesys connector / AudioHook listener ---

	// ConnectorReconnects counts Genesys connector websocket reconnect
	// attempts.
	ConnectorReconnects metric.Int64Counter

	// ConnectorForwardedEvents counts events the connector successfully
	// forwarded to the ingest API.
	ConnectorForwardedEvents metric.Int64Counter

	// ConnectorDroppedEvents counts events the connector dropped (unmappable
	// payload or forward exhaustion).
	ConnectorDroppedEvents metric.Int64Counter

	// AudioHookActiveConnections tracks the number of live AudioHook
	// websocket connections.
	AudioHookActiveConnections metric.Int64UpDownCounter

	// AudioHookForwardedChunks counts audio chunks forwarded by the
	// AudioHook listener.
	AudioHookForwardedChunks metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime ingest/alerting latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.IngestDuration, err = m.Float64Histogram("realtime_telemetry.ingest.duration",
		metric.WithDescription("Latency of ingest API requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EventsIngested, err = m.Int64Counter("realtime_telemetry.events.ingested",
		metric.WithDescription("Total realtime events ingested by event type."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksIngested, err = m.Int64Counter("realtime_telemetry.audio_chunks.ingested",
		metric.WithDescription("Total audio chunks ingested."),
	); err != nil {
		return nil, err
	}
	if met.IngestRejected, err = m.Int64Counter("realtime_telemetry.ingest.rejected",
		metric.WithDescription("Total ingest requests rejected, by reason."),
	); err != nil {
		return nil, err
	}

	if met.AlertsFired, err = m.Int64Counter("realtime_telemetry.alerts.fired",
		metric.WithDescription("Total alerts fired by type and severity."),
	); err != nil {
		return nil, err
	}
	if met.AlertsSuppressed, err = m.Int64Counter("realtime_telemetry.alerts.suppressed",
		metric.WithDescription("Total alerts suppressed by the cooldown window."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSSESubscribers, err = m.Int64UpDownCounter("realtime_telemetry.sse.active_subscribers",
		metric.WithDescription("Number of currently connected SSE subscribers."),
	); err != nil {
		return nil, err
	}
	if met.SSEEventsPublished, err = m.Int64Counter("realtime_telemetry.sse.events_published",
		metric.WithDescription("Total events published to SSE subscribers."),
	); err != nil {
		return nil, err
	}

	if met.ConnectorReconnects, err = m.Int64Counter("realtime_telemetry.genesys_connector.reconnects",
		metric.WithDescription("Total Genesys connector websocket reconnects."),
	); err != nil {
		return nil, err
	}
	if met.ConnectorForwardedEvents, err = m.Int64Counter("realtime_telemetry.genesys_connector.forwarded_events",
		metric.WithDescription("Total events forwarded by the Genesys connector."),
	); err != nil {
		return nil, err
	}
	if met.ConnectorDroppedEvents, err = m.Int64Counter("realtime_telemetry.genesys_connector.dropped_events",
		metric.WithDescription("Total events dropped by the Genesys connector."),
	); err != nil {
		return nil, err
	}
	if met.AudioHookActiveConnections, err = m.Int64UpDownCounter("realtime_telemetry.audiohook.active_connections",
		metric.WithDescription("Number of live AudioHook websocket connections."),
	); err != nil {
		return nil, err
	}
	if met.AudioHookForwardedChunks, err = m.Int64Counter("realtime_telemetry.audiohook.forwarded_chunks",
		metric.WithDescription("Total audio chunks forwarded by the AudioHook listener."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("realtime_telemetry.http.request.duration",
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

// RecordEventIngested is a convenience method recording an ingested event
// counter increment with the standard attribute set.
func (m *Metrics) RecordEventIngested(ctx context.Context, eventType string) {
	m.EventsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordIngestRejected is a convenience method recording a rejected-ingest
// counter increment.
func (m *Metrics) RecordIngestRejected(ctx context.Context, reason string) {
	m.IngestRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAlertFired is a convenience method recording an alert-fired counter
// increment with the standard attribute set.
func (m *Metrics) RecordAlertFired(ctx context.Context, alertType, severity string) {
	m.AlertsFired.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", alertType),
			attribute.String("severity", severity),
		),
	)
}

// RecordAlertSuppressed is a convenience method recording an alert-suppressed
// counter increment.
func (m *Metrics) RecordAlertSuppressed(ctx context.Context, alertType string) {
	m.AlertsSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alertType)))
}
