package logging

import (
	"context"
	"log/slog"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanExporter writes finished spans as debug log lines.
type SpanExporter struct {
	logger *slog.Logger
}

// NewSpanExporter returns an exporter logging to logger.
func NewSpanExporter(logger *slog.Logger) *SpanExporter {
	return &SpanExporter{logger: logger}
}

// ExportSpans logs each span with its attributes, duration and status.
func (e *SpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		args := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
		}
		for _, kv := range s.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}
		e.logger.DebugContext(ctx, "span finished", args...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *SpanExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider returns a provider that exports spans synchronously
// through a SpanExporter.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewSpanExporter(logger)))
}
