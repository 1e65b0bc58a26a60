package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordRule does nothing.
func (NoopMetrics) RecordRule(context.Context, string) {}

// RecordTask does nothing.
func (NoopMetrics) RecordTask(context.Context, string, time.Duration, error) {}

// RecordInvoke does nothing.
func (NoopMetrics) RecordInvoke(context.Context, int, time.Duration, error) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(context.Context, string, string, time.Duration) {}

// RecordPurge does nothing.
func (NoopMetrics) RecordPurge(context.Context, string, int, error) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartInvokeSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartInvokeSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartTaskSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartTaskSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartDeliverySpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartDeliverySpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
