package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/secondbrain/strata/job"
)

// tracerName is the instrumentation scope name for strata tracing.
const tracerName = "github.com/secondbrain/strata"

// Tracing returns middleware that wraps each attempt in a span from the
// global TracerProvider. Without a configured provider the noop tracer
// makes this a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using tracer.
//
// Span attributes: strata.job.id, strata.job.type, strata.job.attempt,
// strata.job.priority and strata.tenant_id.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		ctx, span := tracer.Start(ctx, "strata.job.execute",
			trace.WithAttributes(
				attribute.String("strata.job.id", j.ID.String()),
				attribute.String("strata.job.type", j.Type),
				attribute.Int("strata.job.attempt", j.Attempts),
				attribute.String("strata.job.priority", j.Priority.String()),
				attribute.String("strata.tenant_id", j.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out, err
	}
}
