// Package observe provides application-wide observability primitives for
// Kavach: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Kavach metrics.
const meterName = "github.com/kavach-app/kavach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Detection pipeline ---

	// DetectionEvents counts threat detections. Use with attribute:
	//   attribute.String("kind", ...)
	DetectionEvents metric.Int64Counter

	// FalsePositives counts acoustic frames that crossed one threshold but
	// not both.
	FalsePositives metric.Int64Counter

	// GeofenceDistance tracks the distance from the anchor at breach time,
	// in kilometres.
	GeofenceDistance metric.Float64Histogram

	// --- Escalation ---

	// EscalationSessions counts finished escalation sessions. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	EscalationSessions metric.Int64Counter

	// DialAttempts counts dial attempts. Use with attribute:
	//   attribute.String("status", ...)
	DialAttempts metric.Int64Counter

	// CountdownCancellations counts escalations aborted during the
	// countdown window.
	CountdownCancellations metric.Int64Counter

	// --- Gauges ---

	// ActiveDetectors tracks the number of currently running detectors.
	ActiveDetectors metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for HTTP
// request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// distanceBuckets defines histogram bucket boundaries (in kilometres) for
// geofence breach distances. The lowest bucket matches the default geofence
// threshold.
var distanceBuckets = []float64{
	2, 3, 5, 10, 25, 50, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.DetectionEvents, err = m.Int64Counter("kavach.detections",
		metric.WithDescription("Total threat detections by kind."),
	); err != nil {
		return nil, err
	}
	if met.FalsePositives, err = m.Int64Counter("kavach.acoustic.false_positives",
		metric.WithDescription("Total acoustic near-misses that crossed one threshold but not both."),
	); err != nil {
		return nil, err
	}
	if met.EscalationSessions, err = m.Int64Counter("kavach.escalation.sessions",
		metric.WithDescription("Total finished escalation sessions by terminal outcome."),
	); err != nil {
		return nil, err
	}
	if met.DialAttempts, err = m.Int64Counter("kavach.escalation.dial_attempts",
		metric.WithDescription("Total dial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.CountdownCancellations, err = m.Int64Counter("kavach.escalation.countdown_cancellations",
		metric.WithDescription("Total escalations cancelled during the countdown window."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.GeofenceDistance, err = m.Float64Histogram("kavach.geofence.breach_distance",
		metric.WithDescription("Distance from the safe-zone anchor at breach time."),
		metric.WithUnit("km"),
		metric.WithExplicitBucketBoundaries(distanceBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveDetectors, err = m.Int64UpDownCounter("kavach.detectors.active",
		metric.WithDescription("Number of currently running detectors."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kavach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordDetection is a convenience method that records a detection counter
// increment with the standard attribute set.
func (m *Metrics) RecordDetection(ctx context.Context, kind string) {
	m.DetectionEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFalsePositive is a convenience method that records an acoustic
// near-miss counter increment.
func (m *Metrics) RecordFalsePositive(ctx context.Context) {
	m.FalsePositives.Add(ctx, 1)
}

// RecordGeofenceBreach is a convenience method that records a breach
// distance observation.
func (m *Metrics) RecordGeofenceBreach(ctx context.Context, distanceKm float64) {
	m.GeofenceDistance.Record(ctx, distanceKm)
}

// RecordSessionOutcome is a convenience method that records a finished
// escalation session counter increment.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, outcome string) {
	m.EscalationSessions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDialAttempt is a convenience method that records a dial attempt
// counter increment.
func (m *Metrics) RecordDialAttempt(ctx context.Context, status string) {
	m.DialAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCountdownCancellation is a convenience method that records a
// countdown cancellation counter increment.
func (m *Metrics) RecordCountdownCancellation(ctx context.Context) {
	m.CountdownCancellations.Add(ctx, 1)
}

// DetectorStarted marks a detector as running.
func (m *Metrics) DetectorStarted(ctx context.Context, name string) {
	m.ActiveDetectors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("detector", name)),
	)
}

// DetectorStopped marks a detector as stopped.
func (m *Metrics) DetectorStopped(ctx context.Context, name string) {
	m.ActiveDetectors.Add(ctx, -1,
		metric.WithAttributes(attribute.String("detector", name)),
	)
}
