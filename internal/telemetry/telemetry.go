package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// instrumentationName is the scope shared by the tracer and the meter.
const instrumentationName = "github.com/guillermoBallester/querytuner"

// Resource attribute keys specific to querytuner.
const (
	attrTransport  = attribute.Key("querytuner.transport")
	attrInstanceID = attribute.Key("service.instance.id")
)

// Options describe the running process for the OTel resource.
type Options struct {
	ServiceName string
	Version     string
	Transport   string // "stdio" or "http"
}

// Provider owns the tracer and metric instruments handed to every component,
// plus whatever SDK providers must be flushed on exit.
type Provider struct {
	tracer trace.Tracer
	inst   *Instruments
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
}

// Setup returns a no-op Provider when enabled is false. Otherwise it creates
// OTLP gRPC trace and metric exporters, registers them globally and installs
// the W3C trace context propagator. OTEL_EXPORTER_OTLP_ENDPOINT and
// OTEL_RESOURCE_ATTRIBUTES are read by the SDK.
func Setup(ctx context.Context, enabled bool, opts Options) (*Provider, error) {
	if !enabled {
		return Noop(), nil
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creating otel resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	// Only the HTTP transport carries traceparent headers.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return newProvider(tp, mp, opts.Version), nil
}

// Noop returns a Provider whose tracer and instruments record nothing.
func Noop() *Provider {
	return &Provider{tracer: NoopTracer(), inst: NoopInstruments()}
}

func newProvider(tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider, version string) *Provider {
	return &Provider{
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version)),
		inst:   newInstrumentsFromMeter(mp.Meter(instrumentationName, metric.WithInstrumentationVersion(version))),
		tp:     tp,
		mp:     mp,
	}
}

func newResource(ctx context.Context, opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
		attrInstanceID.String(uuid.NewString()),
	}
	if opts.Transport != "" {
		attrs = append(attrs, attrTransport.String(opts.Transport))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
}

// Tracer returns the tracer for querytuner spans.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return NoopTracer()
	}
	return p.tracer
}

// Instruments returns the metric instruments bound to this provider's meter.
func (p *Provider) Instruments() *Instruments {
	if p == nil || p.inst == nil {
		return NoopInstruments()
	}
	return p.inst
}

// Shutdown flushes and shuts down the trace and metric providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NoopTracer returns a tracer that does nothing (for when OTel is disabled).
func NoopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("noop")
}
