// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"io"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider is a tracer provider that flushes on Close.
type Provider interface {
	trace.TracerProvider
	io.Closer
}

// ProviderBuilder hides the exporter configuration from Init.
type ProviderBuilder func() (Provider, error)

// Init builds the provider and installs it globally together with the W3C trace
// context propagator, so trace ids cross the queue. A failing builder leaves
// tracing disabled and returns a NoopProvider with the error.
func Init(build ProviderBuilder) (Provider, error) {
	provider, err := build()
	if err != nil {
		return NoopProvider{}, errors.Wrap(err, "failed to load tracing provider")
	}

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider, nil
}

// NoopProvider records nothing.
type NoopProvider struct{ noop.TracerProvider }

func (NoopProvider) Close() error { return nil }
