package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmitTurnSpan records one Orchestrator turn (spec.md §4.3's
// Think→Act→Observe cycle) as a span, mirroring the teacher's
// emitAgentSpan: the root span parenting every tool-call span that
// occurred during the turn. No-ops if tracing isn't active on ctx.
func EmitTurnSpan(ctx context.Context, spanID uuid.UUID, taskID string, start time.Time, outputPreview string, turnErr error) {
	collector := CollectorFromContext(ctx)
	traceID := TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := SpanData{
		ID:         spanID,
		TraceID:    traceID,
		SpanType:   SpanTypeTurn,
		Name:       "turn",
		TaskID:     taskID,
		StartTime:  start,
		EndTime:    &now,
		DurationMS: int(now.Sub(start).Milliseconds()),
		Status:     SpanStatusCompleted,
		CreatedAt:  now,
	}
	if announceParent := AnnounceParentSpanIDFromContext(ctx); announceParent != uuid.Nil {
		span.ParentSpanID = &announceParent
		span.Name = "announce:turn"
	}
	if turnErr != nil {
		span.Status = SpanStatusError
		span.Error = turnErr.Error()
	} else {
		span.OutputPreview = truncate(outputPreview, collector.previewLimit())
	}
	collector.EmitSpan(span)
}

// EmitToolCallSpan records one tool invocation nested under the
// enclosing turn span.
func EmitToolCallSpan(ctx context.Context, start time.Time, toolName, input string, ok bool, output, errMsg string) {
	collector := CollectorFromContext(ctx)
	traceID := TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := SpanData{
		ID:            GenID(),
		TraceID:       traceID,
		SpanType:      SpanTypeToolCall,
		Name:          toolName,
		ToolName:      toolName,
		StartTime:     start,
		EndTime:       &now,
		DurationMS:    int(now.Sub(start).Milliseconds()),
		Status:        SpanStatusCompleted,
		InputPreview:  truncate(input, collector.previewLimit()),
		OutputPreview: truncate(output, collector.previewLimit()),
		CreatedAt:     now,
	}
	if parentID := ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}
	if !ok {
		span.Status = SpanStatusError
		span.Error = truncate(errMsg, 200)
	}
	collector.EmitSpan(span)
}

// EmitDispatchSpan records a dispatch_worker call, tagged with the
// target worker, nested under the dispatching turn's span.
func EmitDispatchSpan(ctx context.Context, start time.Time, workerID string, ok bool, summary, errMsg string) {
	collector := CollectorFromContext(ctx)
	traceID := TraceIDFromContext(ctx)
	if collector == nil || traceID == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := SpanData{
		ID:            GenID(),
		TraceID:       traceID,
		SpanType:      SpanTypeDispatch,
		Name:          "dispatch_worker",
		WorkerID:      workerID,
		StartTime:     start,
		EndTime:       &now,
		DurationMS:    int(now.Sub(start).Milliseconds()),
		Status:        SpanStatusCompleted,
		OutputPreview: truncate(summary, collector.previewLimit()),
		CreatedAt:     now,
	}
	if parentID := ParentSpanIDFromContext(ctx); parentID != uuid.Nil {
		span.ParentSpanID = &parentID
	}
	if !ok {
		span.Status = SpanStatusError
		span.Error = truncate(errMsg, 200)
	}
	collector.EmitSpan(span)
}
