// Package observe provides the bot's observability primitives: OpenTelemetry
// metrics, tracing, a trace-aware slog logger, and HTTP middleware.
//
// Metrics go through the OpenTelemetry Metrics API and are exported for
// Prometheus scraping by [InitProvider]. A package-level default [Metrics]
// ([DefaultMetrics]) is available for convenience; tests should call
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/shzanya/verificationBot"

// Metrics holds every instrument the bot records. All fields are safe for
// concurrent use.
type Metrics struct {
	// SessionsActive tracks verification sessions in flight.
	SessionsActive metric.Int64UpDownCounter

	// SessionOutcomes counts finished sessions by attribute "status"
	// (completed, failed, cancelled).
	SessionOutcomes metric.Int64Counter

	// CapturesActive tracks recordings in progress.
	CapturesActive metric.Int64UpDownCounter

	// CapturesCompleted counts resolved captures by attribute "reason"
	// (auto, manual, cancelled).
	CapturesCompleted metric.Int64Counter

	// AnalysisDuration is the wall time of one analysis by "method".
	AnalysisDuration metric.Float64Histogram

	// AnalysisAttempts counts strategy attempts by "method" and "status"
	// (ok, error, skipped).
	AnalysisAttempts metric.Int64Counter

	// QualityScore is the distribution of final scores.
	QualityScore metric.Float64Histogram

	// PlaybackErrors counts prompts that failed to play.
	PlaybackErrors metric.Int64Counter

	// RoleErrors counts failed role changes by "action".
	RoleErrors metric.Int64Counter

	// HTTPRequestDuration tracks health and metrics endpoint latency.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	analysisBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	scoreBuckets    = []float64{5, 10, 15, 25, 30, 40, 50, 60, 70, 80, 90, 100}
	httpBuckets     = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
)

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsActive, err = m.Int64UpDownCounter("verifybot.sessions.active",
		metric.WithDescription("Verification sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("verifybot.sessions.outcomes",
		metric.WithDescription("Finished verification sessions by status."),
	); err != nil {
		return nil, err
	}
	if met.CapturesActive, err = m.Int64UpDownCounter("verifybot.captures.active",
		metric.WithDescription("Recordings in progress."),
	); err != nil {
		return nil, err
	}
	if met.CapturesCompleted, err = m.Int64Counter("verifybot.captures.completed",
		metric.WithDescription("Resolved recordings by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("verifybot.analysis.duration",
		metric.WithDescription("Wall time of one recording analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisAttempts, err = m.Int64Counter("verifybot.analysis.attempts",
		metric.WithDescription("Analysis strategy attempts by method and status."),
	); err != nil {
		return nil, err
	}
	if met.QualityScore, err = m.Float64Histogram("verifybot.quality.score",
		metric.WithDescription("Advisory quality score of recorded answers."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackErrors, err = m.Int64Counter("verifybot.playback.errors",
		metric.WithDescription("Prompts that failed to play."),
	); err != nil {
		return nil, err
	}
	if met.RoleErrors, err = m.Int64Counter("verifybot.role.errors",
		metric.WithDescription("Failed role changes by action."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("verifybot.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
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

// RecordSessionOutcome counts a finished session and decrements the active
// gauge.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, status string) {
	m.SessionsActive.Add(ctx, -1)
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRoleError counts a failed role change.
func (m *Metrics) RecordRoleError(ctx context.Context, action string) {
	m.RoleErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
