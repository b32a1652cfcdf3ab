// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/telos/pkg/errors"
)

// ErrorMetrics tracks error rates, kinds, and recovery patterns for
// production monitoring.
type ErrorMetrics struct {
	// errorCounter tracks total errors by kind and component
	errorCounter metric.Int64Counter

	// recoveryCounter tracks successful recoveries
	recoveryCounter metric.Int64Counter

	// circuitBreakerStateGauge tracks circuit breaker state per component
	circuitBreakerStateGauge metric.Int64Gauge
}

// NewErrorMetrics creates a new error metrics tracker with OTEL meters.
func NewErrorMetrics(_ context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("telos/errors")

	errorCounter, err := meter.Int64Counter(
		"telos.errors.total",
		metric.WithDescription("Total errors by kind and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"telos.errors.recovered",
		metric.WithDescription("Successful error recoveries by kind"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerStateGauge, err := meter.Int64Gauge(
		"telos.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:             errorCounter,
		recoveryCounter:          recoveryCounter,
		circuitBreakerStateGauge: circuitBreakerStateGauge,
	}, nil
}

// RecordErrorMetric increments the error counter for the given error kind
// and component.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	kind := errors.KindOf(err)
	recoverable := "unknown"
	if te := errors.AsTelosError(err); te != nil {
		recoverable = strconv.FormatBool(te.Recoverable)
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.kind", string(kind)),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter for the given error kind.
// Called when an error is successfully handled (retry succeeded, fallback
// used, etc).
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, kind errors.Kind) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.kind", string(kind)),
		),
	)
}

// RecordCircuitBreakerState records the circuit breaker state
// (0=open, 1=half-open, 2=closed).
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}
	em.circuitBreakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String("component", component),
		),
	)
}

// TaskMetrics tracks task throughput, retries and latency.
type TaskMetrics struct {
	taskCounter      metric.Int64Counter
	retryCounter     metric.Int64Counter
	chunkCounter     metric.Int64Counter
	latencyHistogram metric.Int64Histogram
}

// NewTaskMetrics creates the task-level instruments.
func NewTaskMetrics(_ context.Context) (*TaskMetrics, error) {
	meter := otel.Meter("telos/tasks")

	taskCounter, err := meter.Int64Counter(
		"telos.tasks.total",
		metric.WithDescription("Total tasks by capability and terminal status"),
	)
	if err != nil {
		return nil, err
	}

	retryCounter, err := meter.Int64Counter(
		"telos.tasks.retries",
		metric.WithDescription("Retry attempts by error kind"),
	)
	if err != nil {
		return nil, err
	}

	chunkCounter, err := meter.Int64Counter(
		"telos.tasks.chunks",
		metric.WithDescription("Payload chunks processed"),
	)
	if err != nil {
		return nil, err
	}

	latencyHistogram, err := meter.Int64Histogram(
		"telos.tasks.latency_ms",
		metric.WithDescription("Task latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{
		taskCounter:      taskCounter,
		retryCounter:     retryCounter,
		chunkCounter:     chunkCounter,
		latencyHistogram: latencyHistogram,
	}, nil
}

// RecordTask records a completed task with its terminal status.
func (tm *TaskMetrics) RecordTask(ctx context.Context, capability, status string, latencyMs int64) {
	if tm == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("status", status),
	)
	tm.taskCounter.Add(ctx, 1, attrs)
	tm.latencyHistogram.Record(ctx, latencyMs, attrs)
}

// RecordRetry records one retry attempt for the given error kind.
func (tm *TaskMetrics) RecordRetry(ctx context.Context, kind errors.Kind) {
	if tm == nil {
		return
	}
	tm.retryCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error.kind", string(kind))),
	)
}

// RecordChunks records how many chunks a task payload was split into.
func (tm *TaskMetrics) RecordChunks(ctx context.Context, count int) {
	if tm == nil || count <= 0 {
		return
	}
	tm.chunkCounter.Add(ctx, int64(count))
}
