// Package observability provides structured-logging helpers and metrics
// recording for the dispatch pipeline.
//
// Logging uses slog; metrics use OpenTelemetry. Both are opt-in and have
// no-op paths when disabled.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one delivered event and its outcome
	// ("consumed", "forwarded" or "bypassed").
	RecordDispatch(outcome string, duration time.Duration)

	// RecordReceiver records one receiver invocation with its verdict.
	RecordReceiver(verdict string, duration time.Duration)

	// RecordRestart records one tap self-heal restart.
	RecordRestart()
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	receiverCalls   metric.Int64Counter
	receiverLatency metric.Float64Histogram
	restarts        metric.Int64Counter
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
	meter := otel.Meter("tapline")

	dispatches, err := meter.Int64Counter("tapline.dispatch.events",
		metric.WithDescription("Number of events delivered through the pipeline"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("tapline.dispatch.latency_us",
		metric.WithDescription("Full pipeline latency per event in microseconds"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	receiverCalls, err := meter.Int64Counter("tapline.receiver.invocations",
		metric.WithDescription("Number of receiver invocations"),
	)
	if err != nil {
		return nil, err
	}

	receiverLatency, err := meter.Float64Histogram("tapline.receiver.latency_us",
		metric.WithDescription("Receiver processing latency in microseconds"),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	restarts, err := meter.Int64Counter("tapline.tap.restarts",
		metric.WithDescription("Number of tap self-heal restarts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		receiverCalls:   receiverCalls,
		receiverLatency: receiverLatency,
		restarts:        restarts,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records one delivered event.
func (m *otelMetrics) RecordDispatch(outcome string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds()), attrs)
}

// RecordReceiver records one receiver invocation.
func (m *otelMetrics) RecordReceiver(verdict string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("verdict", verdict))
	m.receiverCalls.Add(ctx, 1, attrs)
	m.receiverLatency.Record(ctx, float64(duration.Microseconds()), attrs)
}

// RecordRestart records one self-heal restart.
func (m *otelMetrics) RecordRestart() {
	m.restarts.Add(context.Background(), 1)
}
