//go:build otel

// OTLP export is opt-in via the 'otel' build tag, matching the
// teacher's cmd/gateway.go comment ("OTel OTLP export: compiled via
// build tags. Build with 'go build -tags otel' to enable.") — the
// default build never links the OTLP exporters, only this file does.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryConfig mirrors internal/config.TelemetryConfig without an
// import-cycle-prone dependency on the config package; callers pass
// their config.TelemetryConfig's fields through verbatim.
type TelemetryConfig struct {
	Endpoint    string
	Protocol    string // "grpc" (default) or "http"
	Insecure    bool
	ServiceName string
	Headers     map[string]string
}

// OTLPSink forwards SpanData to an OTLP collector in addition to
// whatever primary Sink (FileSink) a Collector already uses — it is
// composed alongside FileSink via MultiSink, never in place of it, so
// data/TRACES.jsonl stays the durable record even if the collector
// endpoint is unreachable.
type OTLPSink struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewOTLPSink dials cfg.Endpoint and installs a batching span
// processor. Call Shutdown on process exit to flush pending spans.
func NewOTLPSink(ctx context.Context, cfg TelemetryConfig) (*OTLPSink, error) {
	var client otlptrace.Client
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		client = otlptracehttp.NewClient(opts...)
	} else {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		client = otlptracegrpc.NewClient(opts...)
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "xbot-agentic-core"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: otlp resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &OTLPSink{tracer: tp.Tracer(tracerName), tp: tp}, nil
}

const tracerName = "xbot/agentic-core"

// EmitSpan replays a finished SpanData as an OTel span with matching
// start/end timestamps — SpanData is the record of truth (already
// captured before this call), this just re-exports it.
func (s *OTLPSink) EmitSpan(span SpanData) {
	ctx := context.Background()
	opts := []trace.SpanStartOption{trace.WithTimestamp(span.StartTime)}
	_, otelSpan := s.tracer.Start(ctx, string(span.SpanType)+":"+span.Name, opts...)
	otelSpan.SetAttributes(
		attribute.String("trace_id", span.TraceID.String()),
		attribute.String("task_id", span.TaskID),
		attribute.String("worker_id", span.WorkerID),
		attribute.String("tool_name", span.ToolName),
	)
	if span.Status == SpanStatusError {
		otelSpan.SetAttributes(attribute.String("error", span.Error))
	}
	end := span.StartTime
	if span.EndTime != nil {
		end = *span.EndTime
	} else {
		end = time.Now().UTC()
	}
	otelSpan.End(trace.WithTimestamp(end))
}

// Shutdown flushes and stops the underlying TracerProvider.
func (s *OTLPSink) Shutdown(ctx context.Context) error {
	return s.tp.Shutdown(ctx)
}
