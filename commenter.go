package chitrace

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// commenterState is stored in the request context by the middleware
// and read lazily at query time. Tags that depend on routing (the chi
// route pattern) are resolved when the query runs, since the handler
// executes after chi has matched the route.
type commenterState struct {
	app  string
	opts CommenterOptions
}

// CommenterTags returns the sqlcommenter key/value set for the
// current request, or nil when the request is not instrumented or the
// commenter is disabled.
func CommenterTags(ctx context.Context) map[string]string {
	state, ok := ctx.Value(commenterKey).(*commenterState)
	if !ok {
		return nil
	}

	tags := make(map[string]string)

	if !state.opts.DisableFramework {
		tags["framework"] = "chi/v5"
	}
	if !state.opts.DisableAppName && state.app != "" {
		tags["app"] = state.app
	}
	if !state.opts.DisableRoute {
		if route := routePattern(ctx); route != "" {
			tags["route"] = route
		}
	}
	if !state.opts.DisableTraceContext {
		if tp := traceparent(ctx); tp != "" {
			tags["traceparent"] = tp
		}
	}

	return tags
}

// commentQuery appends the serialized sqlcommenter comment to the
// statement. Statements that already carry a comment are left alone,
// matching the sqlcommenter specification.
func commentQuery(ctx context.Context, query string) string {
	tags := CommenterTags(ctx)
	if len(tags) == 0 {
		return query
	}
	if strings.Contains(query, "--") || strings.Contains(query, "/*") {
		return query
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.TrimRight(query, " ;"))
	b.WriteString(" /*")
	for n, k := range keys {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteString("='")
		b.WriteString(url.QueryEscape(tags[k]))
		b.WriteString("'")
	}
	b.WriteString("*/")
	return b.String()
}

// traceparent renders the current span context in W3C traceparent
// form.
func traceparent(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%s",
		sc.TraceID().String(),
		sc.SpanID().String(),
		sc.TraceFlags().String(),
	)
}
