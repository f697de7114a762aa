package chitrace

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names follow the classic HTTP server conventions the
// instrumentation has always emitted; switching to the newer
// http.server.request.duration seconds histogram would break existing
// dashboards.
const (
	durationInstrument       = "http.server.duration"
	activeRequestsInstrument = "http.server.active_requests"
)

// serverMetrics holds the per-request HTTP instruments.
type serverMetrics struct {
	duration       metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

func newServerMetrics(mp metric.MeterProvider) (*serverMetrics, error) {
	meter := mp.Meter(ScopeName, metric.WithInstrumentationVersion(Version))

	duration, err := meter.Float64Histogram(durationInstrument,
		metric.WithUnit("ms"),
		metric.WithDescription("measures the duration of the inbound HTTP request"),
	)
	if err != nil {
		return nil, fmt.Errorf("chitrace: creating duration histogram: %w", err)
	}

	active, err := meter.Int64UpDownCounter(activeRequestsInstrument,
		metric.WithUnit("{request}"),
		metric.WithDescription("measures the number of concurrent HTTP requests that are currently in-flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("chitrace: creating active requests counter: %w", err)
	}

	return &serverMetrics{duration: duration, activeRequests: active}, nil
}

// requestStarted increments the in-flight counter. Nil receivers are
// no-ops so the middleware stays branch-free when metrics are off.
func (m *serverMetrics) requestStarted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// requestFinished decrements in-flight and records the duration in
// milliseconds. It runs on every exit path, panics included.
func (m *serverMetrics) requestFinished(ctx context.Context, elapsed time.Duration, startAttrs, finishAttrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(startAttrs...))
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(finishAttrs...))
}
