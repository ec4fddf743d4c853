package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/durable/invocation"
)

// tracerName is the instrumentation scope name for durable tracing.
const tracerName = "github.com/xraph/durable"

// Tracing returns middleware that wraps each invocation attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: durable.invocation.id, durable.service,
// durable.method, durable.state. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *invocation.Invocation, next Handler) error {
		ctx, span := tracer.Start(ctx, "durable.invocation.run",
			trace.WithAttributes(
				attribute.String("durable.invocation.id", inv.ID.String()),
				attribute.String("durable.service", inv.Service),
				attribute.String("durable.method", inv.Method),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("durable.state", string(inv.State)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
