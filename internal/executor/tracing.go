package executor

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startTaskSpan opens a per-task span, matching the teacher's per-phase
// tracing idiom, narrowed to the Task Executor's one-task-at-a-time
// execution model.
func startTaskSpan(ctx context.Context, taskID, actionType string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "task.execute")
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.action_type", actionType),
	)
	return ctx, span
}

func endTaskSpan(span trace.Span, confidence float64, err error) {
	span.SetAttributes(attribute.Float64("task.confidence", confidence))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
