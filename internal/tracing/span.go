// Package tracing records the spans behind an Orchestrator run: one
// root span per turn loop, one child span per tool call, one per
// worker dispatch. The shape is grounded on the teacher's
// internal/agent/loop_tracing.go (store.SpanData, tracing.Collector),
// whose backing store (internal/store, Postgres-backed) is out of
// scope here per the no-general-database Non-goal — spans are
// recorded to a file-backed JSONL sink instead.
package tracing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SpanType string

const (
	SpanTypeTurn     SpanType = "turn"
	SpanTypeToolCall SpanType = "tool_call"
	SpanTypeDispatch SpanType = "dispatch_worker"
)

type SpanStatus string

const (
	SpanStatusCompleted SpanStatus = "completed"
	SpanStatusError     SpanStatus = "error"
)

// SpanData is the unit the Collector emits. Fields mirror the
// teacher's store.SpanData closely enough that a reader familiar with
// one recognizes the other; PromptTokens/fields the teacher used only
// for its LLM-provider span type are omitted since this package
// doesn't sit in the LLM call path (a providers.Provider reports its
// own usage on ChatResponse).
type SpanData struct {
	ID           uuid.UUID  `json:"id"`
	TraceID      uuid.UUID  `json:"trace_id"`
	ParentSpanID *uuid.UUID `json:"parent_span_id,omitempty"`
	SpanType     SpanType   `json:"span_type"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMS   int        `json:"duration_ms"`
	Status       SpanStatus `json:"status"`
	TaskID       string     `json:"task_id,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"`
	ToolName     string     `json:"tool_name,omitempty"`

	InputPreview  string `json:"input_preview,omitempty"`
	OutputPreview string `json:"output_preview,omitempty"`
	Error         string `json:"error,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// GenID mints a new span/trace identifier.
func GenID() uuid.UUID { return uuid.New() }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
