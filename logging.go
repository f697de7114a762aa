package chitrace

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// TraceFields returns slog attributes carrying the active trace
// context, for correlating log lines with spans. Empty when the
// context carries no valid span.
func TraceFields(ctx context.Context) []slog.Attr {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}

	fields := []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
	if sc.IsSampled() {
		fields = append(fields, slog.Bool("trace_sampled", true))
	}
	return fields
}

// NewLogHandler wraps a slog.Handler so every record logged with a
// request context gains trace_id/span_id fields.
func NewLogHandler(inner slog.Handler) slog.Handler {
	return &logHandler{inner: inner}
}

type logHandler struct {
	inner slog.Handler
}

func (h *logHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *logHandler) Handle(ctx context.Context, rec slog.Record) error {
	if fields := TraceFields(ctx); len(fields) > 0 {
		rec = rec.Clone()
		rec.AddAttrs(fields...)
	}
	return h.inner.Handle(ctx, rec)
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	return &logHandler{inner: h.inner.WithGroup(name)}
}
