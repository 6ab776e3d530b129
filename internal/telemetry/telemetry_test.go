package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "test")
	assert.NotNil(t, span)
	span.End()
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	assert.NotNil(t, inst)
	assert.NotNil(t, inst.RunCount)
	assert.NotNil(t, inst.RunDuration)
	assert.NotNil(t, inst.RunErrors)
	assert.NotNil(t, inst.ToolDuration)

	// Should not panic.
	ctx := context.Background()
	inst.IncrementRuns(ctx)
	inst.RecordRunDuration(ctx, 100.0)
	inst.IncrementRunErrors(ctx, "validation")
	inst.IncrementProviderFailures(ctx, "gemini")
	inst.RecordToolDuration(ctx, "optimize_query", 12.5)
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	var p *Provider
	err := p.Shutdown(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Instruments())
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), false, Options{ServiceName: "querytuner", Version: "1.2.3"})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	p.Instruments().IncrementRuns(context.Background())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewResource(t *testing.T) {
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment=ci")

	res, err := newResource(context.Background(), Options{ServiceName: "querytuner", Version: "1.2.3", Transport: "http"})
	require.NoError(t, err)

	set := res.Set()
	tests := []struct {
		key  attribute.Key
		want string
	}{
		{semconv.ServiceNameKey, "querytuner"},
		{semconv.ServiceVersionKey, "1.2.3"},
		{attrTransport, "http"},
		{"deployment.environment", "ci"},
	}
	for _, tt := range tests {
		v, ok := set.Value(tt.key)
		require.True(t, ok, "missing %s", tt.key)
		assert.Equal(t, tt.want, v.AsString(), "attribute %s", tt.key)
	}
	id, ok := set.Value(attrInstanceID)
	require.True(t, ok)
	assert.NotEmpty(t, id.AsString())
}

func TestProvider_ScopesSpansAndMetrics(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p := newProvider(tp, mp, "1.2.3")

	ctx := context.Background()
	_, span := p.Tracer().Start(ctx, "OptimizerService.Optimize")
	span.End()
	p.Instruments().IncrementAttempts(ctx)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, instrumentationName, spans[0].InstrumentationScope.Name)
	assert.Equal(t, "1.2.3", spans[0].InstrumentationScope.Version)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, instrumentationName, rm.ScopeMetrics[0].Scope.Name)
	assert.Equal(t, "1.2.3", rm.ScopeMetrics[0].Scope.Version)

	require.NoError(t, p.Shutdown(ctx))
}

func TestSpanRecording(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-op")
	span.SetAttributes(attribute.String("llm.provider", "gemini"))
	span.End()

	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test-op", spans[0].Name)
}

func TestMetricRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := newInstrumentsFromMeter(mp.Meter("test"))

	ctx := context.Background()
	inst.IncrementRunErrors(ctx, "execution")
	inst.IncrementRunErrors(ctx, "execution")
	inst.IncrementProviderFailures(ctx, "groq")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Metrics)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	require.Contains(t, byName, "querytuner.run.errors")
	require.Contains(t, byName, "querytuner.provider.failures")

	sum, ok := byName["querytuner.run.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
	stage, _ := sum.DataPoints[0].Attributes.Value("stage")
	assert.Equal(t, "execution", stage.AsString())
}
