// Package telemetry sets up the OpenTelemetry tracer provider. Spans are
// exported to Google Cloud Trace when a project is configured.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/JakeFAU/tbprogress/internal/config"
)

const defaultServiceName = "tbprogress"

type options struct {
	processors []sdktrace.SpanProcessor
	exporter   sdktrace.SpanExporter
	global     bool
}

// Option customizes NewTracerProvider.
type Option func(*options)

// WithSpanProcessor registers an extra span processor, e.g. a
// tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) {
		o.processors = append(o.processors, sp)
	}
}

// WithExporter replaces the Cloud Trace exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
	}
}

// WithoutGlobal leaves the global tracer provider and propagator untouched.
func WithoutGlobal() Option {
	return func(o *options) {
		o.global = false
	}
}

// NewTracerProvider builds a tracer provider for cfg and installs it as the
// global provider together with the W3C trace-context and baggage
// propagators. Callers own the returned provider and must Shutdown it.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, opts ...Option) (*sdktrace.TracerProvider, error) {
	o := options{global: true}
	for _, opt := range opts {
		opt(&o)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil && cfg.ProjectID != "" {
		exporter, err = texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud trace exporter: %w", err)
		}
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	return tp, nil
}
