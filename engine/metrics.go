package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/liamcoop/annotations/annotations"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEvaluation records one EvaluateAll call for an owner.
	RecordEvaluation(ctx context.Context, owner Owner, inhibited bool, failures int, duration time.Duration)

	// RecordRejected records an annotation definition that failed to parse.
	RecordRejected(ctx context.Context, owner Owner, kind annotations.ErrorKind)
}

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordEvaluation does nothing.
func (NoopMetrics) RecordEvaluation(_ context.Context, _ Owner, _ bool, _ int, _ time.Duration) {}

// RecordRejected does nothing.
func (NoopMetrics) RecordRejected(_ context.Context, _ Owner, _ annotations.ErrorKind) {}

type otelMetrics struct {
	evaluations       metric.Int64Counter
	evaluationLatency metric.Float64Histogram
	evaluationErrors  metric.Int64Counter
	inhibitions       metric.Int64Counter
	rejected          metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("annotations")

	evaluations, err := meter.Int64Counter("annotations.evaluations",
		metric.WithDescription("Number of events evaluated against an owner's annotations"),
	)
	if err != nil {
		return nil, err
	}

	evaluationLatency, err := meter.Float64Histogram("annotations.evaluation.latency_ms",
		metric.WithDescription("Evaluation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	evaluationErrors, err := meter.Int64Counter("annotations.evaluation.errors",
		metric.WithDescription("Number of annotations that failed to evaluate"),
	)
	if err != nil {
		return nil, err
	}

	inhibitions, err := meter.Int64Counter("annotations.inhibitions",
		metric.WithDescription("Number of events inhibited"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("annotations.rejected",
		metric.WithDescription("Number of annotation definitions rejected by the parser"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		evaluations:       evaluations,
		evaluationLatency: evaluationLatency,
		evaluationErrors:  evaluationErrors,
		inhibitions:       inhibitions,
		rejected:          rejected,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder using the global OTel meter
// provider, or NoopMetrics if the instruments cannot be created.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEvaluation records one evaluation.
func (m *otelMetrics) RecordEvaluation(ctx context.Context, owner Owner, inhibited bool, failures int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("owner_kind", string(owner.Kind)))

	m.evaluations.Add(ctx, 1, attrs)
	m.evaluationLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if failures > 0 {
		m.evaluationErrors.Add(ctx, int64(failures), attrs)
	}
	if inhibited {
		m.inhibitions.Add(ctx, 1, attrs)
	}
}

// RecordRejected records a rejected definition.
func (m *otelMetrics) RecordRejected(ctx context.Context, owner Owner, kind annotations.ErrorKind) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("owner_kind", string(owner.Kind)),
		attribute.String("kind", string(kind)),
	))
}
