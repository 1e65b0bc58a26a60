package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ruleflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartInvokeSpan starts the span for one orchestrator call.
	StartInvokeSpan(ctx context.Context, eventCount int) (context.Context, trace.Span)

	// StartTaskSpan starts a child span for one workflow task.
	StartTaskSpan(ctx context.Context, flowID, eventID string) (context.Context, trace.Span)

	// StartDeliverySpan starts a span for one destination delivery.
	StartDeliverySpan(ctx context.Context, destinationID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global OTel tracer
// provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartInvokeSpan(ctx context.Context, eventCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ruleflow.invoke",
		trace.WithAttributes(attribute.Int("events", eventCount)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartTaskSpan(ctx context.Context, flowID, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ruleflow.task."+flowID,
		trace.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartDeliverySpan(ctx context.Context, destinationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ruleflow.deliver."+destinationID,
		trace.WithAttributes(attribute.String("destination.id", destinationID)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes span, recording err when non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InitStdoutTracer installs a global tracer provider that writes spans to w
// and returns its shutdown function.
func InitStdoutTracer(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("ruleflow")
	return tp.Shutdown, nil
}
