package chitrace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType selects where spans are exported.
type ExporterType string

const (
	// ExporterOTLP exports over OTLP gRPC to a collector.
	ExporterOTLP ExporterType = "otlp"
	// ExporterZipkin exports directly to a Zipkin endpoint.
	ExporterZipkin ExporterType = "zipkin"
	// ExporterNone disables export, useful for tests.
	ExporterNone ExporterType = "none"
)

// SamplerType selects the sampling strategy.
type SamplerType string

const (
	SamplerAlways      SamplerType = "always"
	SamplerNever       SamplerType = "never"
	SamplerRatio       SamplerType = "ratio"
	SamplerParentBased SamplerType = "parent"
)

// ProviderConfig configures the optional SDK setup for hosts that do
// not already manage an OpenTelemetry tracer provider.
type ProviderConfig struct {
	// ServiceName identifies the host service in traces. Required.
	ServiceName string `env:"OTEL_SERVICE_NAME"`

	// ServiceVersion is the host service version.
	ServiceVersion string `env:"OTEL_SERVICE_VERSION"`

	// Environment names the deployment environment.
	Environment string `env:"OTEL_ENVIRONMENT"`

	// Endpoint is the collector endpoint, e.g. "localhost:4317" for
	// OTLP or a full URL for Zipkin. Required unless Exporter is none.
	Endpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	// Exporter selects the span exporter. Defaults to OTLP.
	Exporter ExporterType `env:"OTEL_EXPORTER"`

	// Insecure disables TLS on the exporter connection.
	Insecure bool `env:"OTEL_INSECURE"`

	// Sampler selects the sampling strategy. Defaults to always.
	Sampler SamplerType `env:"OTEL_SAMPLER"`

	// SampleRatio applies when Sampler is ratio. Defaults to 1.0.
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO"`

	// Headers are sent with every export, e.g. for authentication.
	Headers map[string]string

	// ResourceAttributes are added to every exported span.
	ResourceAttributes map[string]string
}

// ProviderConfigFromEnv builds a ProviderConfig from OTEL_*
// environment variables.
func ProviderConfigFromEnv() (ProviderConfig, error) {
	var cfg ProviderConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("chitrace: parsing provider environment: %w", err)
	}
	return cfg, nil
}

// Validate normalizes defaults and rejects inconsistent settings.
func (c *ProviderConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("chitrace: ServiceName is required")
	}

	if c.Exporter == "" {
		c.Exporter = ExporterOTLP
	}
	switch c.Exporter {
	case ExporterOTLP, ExporterZipkin, ExporterNone:
	default:
		return fmt.Errorf("chitrace: invalid exporter type %q", c.Exporter)
	}

	if c.Exporter != ExporterNone && c.Endpoint == "" {
		return errors.New("chitrace: Endpoint is required when export is enabled")
	}

	if c.Sampler == "" {
		c.Sampler = SamplerAlways
	}
	switch c.Sampler {
	case SamplerAlways, SamplerNever, SamplerRatio, SamplerParentBased:
	default:
		return fmt.Errorf("chitrace: invalid sampler type %q", c.Sampler)
	}

	if c.SampleRatio == 0 {
		c.SampleRatio = 1.0
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("chitrace: SampleRatio must be between 0.0 and 1.0")
	}

	return nil
}

// Provider owns the SDK tracer provider, exporter, and propagator for
// hosts that delegate OpenTelemetry setup to this package.
type Provider struct {
	config         ProviderConfig
	tracerProvider *sdktrace.TracerProvider
	propagator     propagation.TextMapPropagator
	shutdownOnce   sync.Once
}

// NewProvider builds the SDK stack from cfg and registers it as the
// global tracer provider and propagator.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{config: cfg}

	exporter, err := p.newExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("chitrace: creating exporter: %w", err)
	}

	res, err := p.newResource()
	if err != nil {
		return nil, fmt.Errorf("chitrace: creating resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(p.newSampler()),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	p.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(p.propagator)

	return p, nil
}

func (p *Provider) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch p.config.Exporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.config.Endpoint),
		}
		if p.config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(p.config.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(p.config.Headers))
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case ExporterZipkin:
		return zipkin.New(p.config.Endpoint)
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", p.config.Exporter)
	}
}

func (p *Provider) newResource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(p.config.ServiceName),
	}
	if p.config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(p.config.ServiceVersion))
	}
	if p.config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(p.config.Environment))
	}
	for k, v := range p.config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...), nil
}

func (p *Provider) newSampler() sdktrace.Sampler {
	switch p.config.Sampler {
	case SamplerNever:
		return sdktrace.NeverSample()
	case SamplerRatio:
		return sdktrace.TraceIDRatioBased(p.config.SampleRatio)
	case SamplerParentBased:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

// TracerProvider returns the underlying SDK tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// Propagator returns the configured composite propagator.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Config returns the provider configuration.
func (p *Provider) Config() ProviderConfig {
	return p.config
}

// ForceFlush exports all pending spans immediately.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the provider. Safe to call
// more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if p.tracerProvider != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = p.tracerProvider.Shutdown(shutdownCtx)
		}
	})
	return err
}
