// Package jaeger exports spans over OTLP/HTTP, which Jaeger accepts natively.
package jaeger

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pure-golang/bulkmail/tracing"
)

var _ tracing.Provider = (*Provider)(nil)

// Config of the exporter. An empty Endpoint disables tracing.
type Config struct {
	Endpoint    string  `envconfig:"TRACING_ENDPOINT"`
	ServiceName string  `envconfig:"SERVICE_NAME" default:"bulkmail"`
	AppVersion  string  `envconfig:"APP_VERSION" default:"dev"`
	SampleRatio float64 `envconfig:"TRACING_SAMPLE_RATIO" default:"1"`
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Provider is a batching SDK tracer provider.
type Provider struct {
	*tracesdk.TracerProvider
}

// Close flushes pending spans and shuts the provider down.
func (p *Provider) Close() error {
	ctx := context.Background()
	flushErr := errors.Wrap(p.ForceFlush(ctx), "failed to flush spans")
	shutdownErr := errors.Wrap(p.Shutdown(ctx), "failed to shut down tracer provider")
	return stderrors.Join(flushErr, shutdownErr)
}

// NewProviderBuilder returns a tracing.ProviderBuilder for cfg.
func NewProviderBuilder(cfg Config) tracing.ProviderBuilder {
	return func() (tracing.Provider, error) {
		if cfg.Endpoint == "" {
			return nil, errors.New("tracing endpoint is empty")
		}
		if cfg.ServiceName == "" {
			return nil, errors.New("service name is empty")
		}

		exporter, err := otlptrace.New(context.Background(),
			otlptracehttp.NewClient(otlptracehttp.WithEndpointURL(cfg.Endpoint)))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create otlp exporter")
		}

		return &Provider{TracerProvider: tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exporter),
			tracesdk.WithResource(resource.NewSchemaless(
				attribute.String("service.name", cfg.ServiceName),
				attribute.String("service.version", cfg.AppVersion),
			)),
			tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRatio))),
		)}, nil
	}
}
