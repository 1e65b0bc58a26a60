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

// Rule outcomes passed to RecordRule.
const (
	RuleDispatched     = "dispatched"
	RuleDisabled       = "disabled"
	RuleSourceMismatch = "source_mismatch"
	RuleConsentDenied  = "consent_denied"
	RuleInvalid        = "invalid"
	RuleDangling       = "dangling"
	RuleFlowLoadFailed = "flow_load_failed"
)

// Delivery outcomes passed to RecordDelivery.
const (
	DeliverySent           = "sent"
	DeliveryDeferred       = "deferred"
	DeliverySkipped        = "skipped"
	DeliveryConditionFalse = "condition_false"
	DeliveryFailed         = "failed"
)

// MetricsRecorder records ruleflow metrics.
// Use NewMetricsRecorder for OTel, NewPrometheusRecorder for Prometheus, or
// NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRule records how a routing rule was handled.
	RecordRule(ctx context.Context, outcome string)

	// RecordTask records a finished workflow task.
	RecordTask(ctx context.Context, flowID string, duration time.Duration, err error)

	// RecordInvoke records a finished orchestrator call.
	RecordInvoke(ctx context.Context, tasks int, duration time.Duration, err error)

	// RecordDelivery records one destination in a fan-out.
	RecordDelivery(ctx context.Context, destinationID, outcome string, duration time.Duration)

	// RecordPurge records a batch purge.
	RecordPurge(ctx context.Context, trigger string, size int, err error)
}

type otelMetrics struct {
	rules           metric.Int64Counter
	tasks           metric.Int64Counter
	taskErrors      metric.Int64Counter
	taskLatency     metric.Float64Histogram
	invokes         metric.Int64Counter
	invokeTasks     metric.Int64Histogram
	invokeLatency   metric.Float64Histogram
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	purges          metric.Int64Counter
	purgeSize       metric.Int64Histogram
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
	meter := otel.Meter("ruleflow")
	m := &otelMetrics{}
	var err error

	if m.rules, err = meter.Int64Counter("ruleflow.rules",
		metric.WithDescription("Routing rules handled, by outcome"),
	); err != nil {
		return nil, err
	}
	if m.tasks, err = meter.Int64Counter("ruleflow.task.executions",
		metric.WithDescription("Number of workflow tasks run"),
	); err != nil {
		return nil, err
	}
	if m.taskErrors, err = meter.Int64Counter("ruleflow.task.errors",
		metric.WithDescription("Number of failed workflow tasks"),
	); err != nil {
		return nil, err
	}
	if m.taskLatency, err = meter.Float64Histogram("ruleflow.task.latency_ms",
		metric.WithDescription("Workflow task latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.invokes, err = meter.Int64Counter("ruleflow.invokes",
		metric.WithDescription("Number of orchestrator calls"),
	); err != nil {
		return nil, err
	}
	if m.invokeTasks, err = meter.Int64Histogram("ruleflow.invoke.tasks",
		metric.WithDescription("Workflow tasks spawned per orchestrator call"),
	); err != nil {
		return nil, err
	}
	if m.invokeLatency, err = meter.Float64Histogram("ruleflow.invoke.latency_ms",
		metric.WithDescription("Orchestrator call latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.deliveries, err = meter.Int64Counter("ruleflow.deliveries",
		metric.WithDescription("Destination deliveries, by outcome"),
	); err != nil {
		return nil, err
	}
	if m.deliveryLatency, err = meter.Float64Histogram("ruleflow.delivery.latency_ms",
		metric.WithDescription("Destination delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.purges, err = meter.Int64Counter("ruleflow.batch.purges",
		metric.WithDescription("Batch purges, by trigger"),
	); err != nil {
		return nil, err
	}
	if m.purgeSize, err = meter.Int64Histogram("ruleflow.batch.size",
		metric.WithDescription("Items per batch purge"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails it returns NoopMetrics.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordRule(ctx context.Context, outcome string) {
	m.rules.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *otelMetrics) RecordTask(ctx context.Context, flowID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("flow_id", flowID))
	m.tasks.Add(ctx, 1, attrs)
	m.taskLatency.Record(ctx, milliseconds(duration), attrs)
	if err != nil {
		m.taskErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordInvoke(ctx context.Context, tasks int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.invokes.Add(ctx, 1, attrs)
	m.invokeTasks.Record(ctx, int64(tasks), attrs)
	m.invokeLatency.Record(ctx, milliseconds(duration), attrs)
}

func (m *otelMetrics) RecordDelivery(ctx context.Context, destinationID, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("destination_id", destinationID),
		attribute.String("outcome", outcome),
	)
	m.deliveries.Add(ctx, 1, attrs)
	m.deliveryLatency.Record(ctx, milliseconds(duration), attrs)
}

func (m *otelMetrics) RecordPurge(ctx context.Context, trigger string, size int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", err == nil),
	)
	m.purges.Add(ctx, 1, attrs)
	m.purgeSize.Record(ctx, int64(size), attrs)
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
