package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName identifies this module's spans in exported traces.
const tracerName = "github.com/mats-go/mats"

// InitTracer initializes OpenTelemetry tracing with an OTLP gRPC
// exporter. Returns a shutdown function that must be called on service
// termination.
func InitTracer(serviceName, otlpEndpoint string) (func(context.Context) error, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(), // use TLS in production
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()), // use TraceIDRatioBased in prod
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// StartCoordinatorScopeSpan opens a span for one coordinator scope, with
// the flow's traceId attached as a span attribute so it can be
// cross-referenced against application logs.
func StartCoordinatorScopeSpan(ctx context.Context, matsTraceID string) (context.Context, func()) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mats.coordinator.scope",
		oteltrace.WithAttributes(attribute.String("mats.trace_id", matsTraceID)),
	)
	return ctx, func() { span.End() }
}

// StartStageSpan opens a span for one stage invocation.
func StartStageSpan(ctx context.Context, stageID, matsTraceID string) (context.Context, func()) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mats.stage."+stageID,
		oteltrace.WithAttributes(attribute.String("mats.trace_id", matsTraceID)),
	)
	return ctx, func() { span.End() }
}
