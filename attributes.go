package chitrace

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// spanName builds the span name from the HTTP method and the matched
// chi route pattern. Requests that matched no route (404s and the
// like) keep a method-only name so unmatched paths don't explode span
// cardinality.
func spanName(method, routePattern string) string {
	if routePattern == "" {
		return method
	}
	return method + " " + routePattern
}

// requestAttributes maps an inbound request to the standard HTTP
// server attribute set. It reads the request but never mutates it.
func requestAttributes(r *http.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPMethod(r.Method),
		semconv.HTTPScheme(requestScheme(r)),
		semconv.HTTPTarget(r.URL.Path),
	}

	if r.Host != "" {
		attrs = append(attrs, semconv.NetHostName(r.Host))
	}

	if r.URL.RawQuery != "" {
		attrs = append(attrs, attribute.String("http.query", r.URL.RawQuery))
	}

	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.HTTPUserAgent(ua))
	}

	if r.ContentLength > 0 {
		attrs = append(attrs, semconv.HTTPRequestContentLength(int(r.ContentLength)))
	}

	if ip := clientIP(r); ip != "" {
		attrs = append(attrs, semconv.NetSockPeerAddr(ip))
	}

	return attrs
}

// responseAttributes maps the response outcome to span attributes.
func responseAttributes(statusCode int, bytesWritten int64, routePattern string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPStatusCode(statusCode),
	}
	if bytesWritten > 0 {
		attrs = append(attrs, attribute.Int64("http.response.size", bytesWritten))
	}
	if routePattern != "" {
		attrs = append(attrs, semconv.HTTPRoute(routePattern))
	}
	return attrs
}

// metricAttributes is the low-cardinality subset recorded on the
// duration histogram and active-requests counter.
func metricAttributes(r *http.Request, statusCode int, routePattern string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPMethod(r.Method),
		semconv.HTTPScheme(requestScheme(r)),
	}
	if routePattern != "" {
		attrs = append(attrs, semconv.HTTPRoute(routePattern))
	}
	if statusCode > 0 {
		attrs = append(attrs, semconv.HTTPStatusCode(statusCode))
	}
	return attrs
}

// requestScheme returns the request scheme, honoring proxies.
func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can carry a chain, the first entry is the client.
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	addr := r.RemoteAddr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
