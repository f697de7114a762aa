package chitrace

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	spanMarkKey contextKey = iota
	commenterKey
)

// instrumented reports whether an enclosing chitrace middleware has
// already claimed this request. Guards against nested instrumented
// routers producing duplicate spans.
func instrumented(ctx context.Context) bool {
	return ctx.Value(spanMarkKey) != nil
}

// Middleware returns the chi middleware that traces every request
// passing through the router while the instrumentor is active.
func (i *Instrumentor) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !i.active.Load() || instrumented(r.Context()) || i.exclude.Disabled(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			i.serve(w, r, next)
		})
	}
}

// serve owns the span lifecycle for one request. The span is ended
// exactly once on every exit path: normal return, error status, and
// panicking handler. Panics are re-raised unchanged so the host's own
// recovery middleware sees them.
func (i *Instrumentor) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := i.cfg.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	ctx, span := i.tracer.Start(ctx, r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(requestAttributes(r)...),
	)
	ctx = context.WithValue(ctx, spanMarkKey, struct{}{})
	if i.cfg.commenterEnabled {
		ctx = context.WithValue(ctx, commenterKey, &commenterState{
			app:  i.cfg.serverName,
			opts: i.cfg.commenter,
		})
	}

	startAttrs := metricAttributes(r, 0, "")
	i.metrics.requestStarted(ctx, startAttrs)

	rw := newResponseWriter(w)
	if i.cfg.traceIDHeader != "" && span.SpanContext().HasTraceID() {
		rw.Header().Set(i.cfg.traceIDHeader, span.SpanContext().TraceID().String())
	}

	if i.cfg.requestHook != nil {
		i.cfg.requestHook(span, r)
	}

	start := time.Now()
	ended := false

	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !ended {
				span.End()
				i.metrics.requestFinished(ctx, time.Since(start), startAttrs,
					metricAttributes(r, 0, routePattern(ctx)))
			}
			panic(rec)
		}
	}()

	next.ServeHTTP(rw, r.WithContext(ctx))

	// The route pattern is only known once chi finished routing.
	route := routePattern(ctx)
	status := rw.Status()

	span.SetName(spanName(r.Method, route))
	span.SetAttributes(responseAttributes(status, rw.BytesWritten(), route)...)

	if i.cfg.responseHook != nil {
		i.cfg.responseHook(span, r, status)
	}

	switch {
	case status >= 500:
		span.SetStatus(codes.Error, http.StatusText(status))
	case status >= 400:
		span.SetStatus(codes.Unset, "")
	default:
		span.SetStatus(codes.Ok, "")
	}

	ended = true
	span.End()
	i.metrics.requestFinished(ctx, time.Since(start), startAttrs,
		metricAttributes(r, status, route))
}

// routePattern returns the matched chi route pattern, or "" when the
// request was not routed (404) or chi is not in the handler chain.
func routePattern(ctx context.Context) string {
	if rctx := chi.RouteContext(ctx); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// responseWriter captures the status code and body size written by
// the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	bytesWritten  int64
	headerWritten bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.headerWritten {
		rw.statusCode = code
		rw.headerWritten = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap supports http.ResponseController and other wrappers.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Status() int {
	return rw.statusCode
}

func (rw *responseWriter) BytesWritten() int64 {
	return rw.bytesWritten
}
