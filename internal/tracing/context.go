package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	collectorCtxKey ctxKey = iota
	traceIDCtxKey
	parentSpanIDCtxKey
	announceParentSpanIDCtxKey
	delegateParentTraceIDCtxKey
)

// WithCollector attaches the active Collector to ctx.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorCtxKey, c)
}

// CollectorFromContext returns the Collector attached by
// WithCollector, or nil if tracing isn't active for this call chain.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorCtxKey).(*Collector)
	return c
}

// WithTraceID attaches the trace ID that roots every span recorded
// for the current turn loop.
func WithTraceID(ctx context.Context, traceID uuid.UUID) context.Context {
	return context.WithValue(ctx, traceIDCtxKey, traceID)
}

// TraceIDFromContext returns the trace ID set by WithTraceID, or
// uuid.Nil if none was set.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(traceIDCtxKey).(uuid.UUID)
	return id
}

// WithParentSpanID attaches the span ID that a newly-opened span
// should nest under.
func WithParentSpanID(ctx context.Context, spanID uuid.UUID) context.Context {
	return context.WithValue(ctx, parentSpanIDCtxKey, spanID)
}

// ParentSpanIDFromContext returns the span ID set by
// WithParentSpanID, or uuid.Nil at the root of a trace.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(parentSpanIDCtxKey).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID marks the root span of a heartbeat-driven
// announce run as nesting under a prior turn's root span, so a
// heartbeat-triggered reply still reads as part of the same trace in
// WORKER_TASKS/TRACES review tooling.
func WithAnnounceParentSpanID(ctx context.Context, spanID uuid.UUID) context.Context {
	return context.WithValue(ctx, announceParentSpanIDCtxKey, spanID)
}

// AnnounceParentSpanIDFromContext returns the span ID set by
// WithAnnounceParentSpanID, or uuid.Nil if this is not an announce run.
func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(announceParentSpanIDCtxKey).(uuid.UUID)
	return id
}

// WithDelegateParentTraceID records, on a task dispatched to a
// Worker, which Manager-side trace originated the dispatch — set on
// the task's own context (not inherited automatically) since the
// Worker's execution is a separate trace root, not a child span of
// the Manager's.
func WithDelegateParentTraceID(ctx context.Context, traceID uuid.UUID) context.Context {
	return context.WithValue(ctx, delegateParentTraceIDCtxKey, traceID)
}

// DelegateParentTraceIDFromContext returns the originating trace ID
// set by WithDelegateParentTraceID, or uuid.Nil for a task that was
// not dispatched from another trace.
func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(delegateParentTraceIDCtxKey).(uuid.UUID)
	return id
}
