package chitrace

import (
	"fmt"
	"net/http"

	"github.com/caarlos0/env/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope reported on every span and
// metric produced by this package.
const ScopeName = "github.com/jimmitjoo/chitrace"

// Version is the instrumentation version reported alongside ScopeName.
const Version = "0.1.0"

// DefaultTraceIDHeader is the response header carrying the trace ID.
const DefaultTraceIDHeader = "X-Trace-ID"

// RequestHook runs after the server span is started, before the
// wrapped handler is invoked.
type RequestHook func(span trace.Span, r *http.Request)

// ResponseHook runs after the wrapped handler returns, once the
// response status code is known.
type ResponseHook func(span trace.Span, r *http.Request, statusCode int)

// CommenterOptions selects which tags WrapDB appends to outgoing SQL
// statements. The zero value enables everything.
type CommenterOptions struct {
	DisableAppName      bool
	DisableRoute        bool
	DisableFramework    bool
	DisableTraceContext bool
}

type config struct {
	tracerProvider   trace.TracerProvider
	meterProvider    metric.MeterProvider
	propagator       propagation.TextMapPropagator
	serverName       string
	excludedURLs     []string
	requestHook      RequestHook
	responseHook     ResponseHook
	traceIDHeader    string
	metricsEnabled   bool
	commenterEnabled bool
	commenter        CommenterOptions
}

// envConfig carries the environment-variable surface of the
// instrumentation. Exporter settings live on ProviderConfig.
type envConfig struct {
	ServerName          string   `env:"OTEL_SERVICE_NAME"`
	ExcludedURLs        []string `env:"OTEL_GO_CHI_EXCLUDED_URLS" envSeparator:","`
	SQLCommenter        bool     `env:"OTEL_GO_CHI_SQLCOMMENTER_ENABLED" envDefault:"true"`
	DisableMetrics      bool     `env:"OTEL_GO_CHI_DISABLE_METRICS"`
	TraceResponseHeader string   `env:"OTEL_GO_CHI_TRACE_ID_HEADER"`
}

func newConfig(opts ...Option) (*config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("chitrace: parsing environment: %w", err)
	}

	c := &config{
		serverName:       ec.ServerName,
		excludedURLs:     ec.ExcludedURLs,
		traceIDHeader:    DefaultTraceIDHeader,
		metricsEnabled:   !ec.DisableMetrics,
		commenterEnabled: ec.SQLCommenter,
	}
	if ec.TraceResponseHeader != "" {
		c.traceIDHeader = ec.TraceResponseHeader
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}
	if c.propagator == nil {
		c.propagator = otel.GetTextMapPropagator()
	}
	return c, nil
}

func (c *config) tracer() trace.Tracer {
	return c.tracerProvider.Tracer(ScopeName,
		trace.WithInstrumentationVersion(Version))
}

// Option configures an Instrumentor.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithTracerProvider sets the TracerProvider used for server spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(c *config) {
		if tp != nil {
			c.tracerProvider = tp
		}
	})
}

// WithMeterProvider sets the MeterProvider used for HTTP server
// metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return optionFunc(func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	})
}

// WithPropagator sets the propagator used to extract incoming trace
// context. Defaults to the global propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return optionFunc(func(c *config) {
		if p != nil {
			c.propagator = p
		}
	})
}

// WithServerName sets the logical server name used for the
// sqlcommenter app tag and the net.host.name fallback.
func WithServerName(name string) Option {
	return optionFunc(func(c *config) {
		c.serverName = name
	})
}

// WithExcludedURLs adds path patterns for which no span is created.
// Patterns are regular expressions matched anywhere in the request
// path; invalid patterns surface at NewInstrumentor.
func WithExcludedURLs(patterns ...string) Option {
	return optionFunc(func(c *config) {
		c.excludedURLs = append(c.excludedURLs, patterns...)
	})
}

// WithRequestHook registers a hook invoked right after span creation.
func WithRequestHook(h RequestHook) Option {
	return optionFunc(func(c *config) {
		c.requestHook = h
	})
}

// WithResponseHook registers a hook invoked after span population.
func WithResponseHook(h ResponseHook) Option {
	return optionFunc(func(c *config) {
		c.responseHook = h
	})
}

// WithTraceIDHeader overrides the response header carrying the trace
// ID. An empty name disables the header.
func WithTraceIDHeader(name string) Option {
	return optionFunc(func(c *config) {
		c.traceIDHeader = name
	})
}

// WithoutMetrics disables the http.server.duration and
// http.server.active_requests instruments.
func WithoutMetrics() Option {
	return optionFunc(func(c *config) {
		c.metricsEnabled = false
	})
}

// WithSQLCommenter configures sqlcommenter tag propagation.
func WithSQLCommenter(opts CommenterOptions) Option {
	return optionFunc(func(c *config) {
		c.commenterEnabled = true
		c.commenter = opts
	})
}

// WithoutSQLCommenter disables sqlcommenter tag propagation.
func WithoutSQLCommenter() Option {
	return optionFunc(func(c *config) {
		c.commenterEnabled = false
	})
}
