// Package chitrace provides OpenTelemetry instrumentation for
// go-chi/chi routers.
//
// # Quick Start
//
//	inst, err := chitrace.NewInstrumentor(
//	    chitrace.WithServerName("my-app"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := inst.Activate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	r := chi.NewRouter()
//	uninstall, _ := inst.Instrument(r)
//	defer uninstall()
//
//	r.Get("/items/{id}", itemHandler)
//
// Every request routed through r now produces a single server span
// named after the HTTP method and the matched chi route pattern
// (for example "GET /items/{id}"), annotated with the standard HTTP
// semantic attributes. Requests that match no route keep a
// method-only span name. The span is ended exactly once on every
// exit path, including panicking handlers; the panic is re-raised
// unchanged so the router's own recovery behaves as without
// instrumentation.
//
// # Activation Lifecycle
//
// An Instrumentor is activated at most once; a second Activate
// returns ErrAlreadyActivated. Deactivate flips the activation flag
// so instrumented routers pass requests through untouched (chi
// middleware chains are append-only, so hooks are neutralized rather
// than removed). A package-level Activate/Deactivate pair manages a
// process-wide default instrumentor.
//
// # Excluded URLs
//
// Paths matching a configured pattern are never traced:
//
//	chitrace.WithExcludedURLs(`^/healthz$`, `/internal/`)
//
// Patterns are regular expressions matched anywhere in the request
// path. They can also come from the OTEL_GO_CHI_EXCLUDED_URLS
// environment variable as a comma-separated list.
//
// # Hooks
//
// Request and response hooks run inside the middleware for per-app
// span customization:
//
//	chitrace.WithRequestHook(func(span trace.Span, r *http.Request) {
//	    span.SetAttributes(attribute.String("tenant", r.Header.Get("X-Tenant")))
//	})
//
// # Metrics
//
// The middleware records the http.server.duration histogram
// (milliseconds) and the http.server.active_requests up-down counter
// through the configured MeterProvider. WithoutMetrics disables both.
//
// # SQLCommenter
//
// When enabled (the default), the middleware marks the request
// context so that database calls made through WrapDB carry a
// sqlcommenter comment with the application name, matched route, and
// W3C traceparent:
//
//	SELECT * FROM items WHERE id = ? /*app='my-app',route='%2Fitems%2F%7Bid%7D',traceparent='00-...'*/
//
// # Exporter Setup
//
// Hosts that do not already manage an OpenTelemetry SDK can use
// NewProvider to configure an OTLP or Zipkin exporter, sampling, and
// propagation:
//
//	provider, err := chitrace.NewProvider(chitrace.ProviderConfig{
//	    ServiceName: "my-app",
//	    Endpoint:    "localhost:4317",
//	    Insecure:    true,
//	})
//	defer provider.Shutdown(context.Background())
package chitrace
