package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "querywarden"

// StartFlowSpan starts the root span of a flow session run.
func StartFlowSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "flow",
		trace.WithAttributes(attribute.String("flow.session_id", sessionID)),
	)
}

// StartStageSpan starts a child span for one pipeline stage.
func StartStageSpan(ctx context.Context, sessionID, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "flow."+stage,
		trace.WithAttributes(
			attribute.String("flow.session_id", sessionID),
			attribute.String("flow.stage", stage),
		),
	)
}

// StartTerminateSpan wraps a pg_terminate_backend call.
func StartTerminateSpan(ctx context.Context, pid int32) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pg.terminate_backend",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("db.pid", int(pid))),
	)
}
