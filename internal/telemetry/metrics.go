package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments holds pre-created OTel metric instruments.
type Instruments struct {
	RunCount         metric.Int64Counter
	RunDuration      metric.Float64Histogram
	RunErrors        metric.Int64Counter
	AttemptCount     metric.Int64Counter
	ProviderFailures metric.Int64Counter
	ToolDuration     metric.Float64Histogram
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	meter := noop.NewMeterProvider().Meter(instrumentationName)
	return newInstrumentsFromMeter(meter)
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	runCount, _ := meter.Int64Counter("querytuner.run.count",
		metric.WithDescription("Total number of optimization runs"),
	)
	runDuration, _ := meter.Float64Histogram("querytuner.run.duration",
		metric.WithDescription("Optimization run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	runErrors, _ := meter.Int64Counter("querytuner.run.errors",
		metric.WithDescription("Optimization runs aborted, by stage"),
	)
	attempts, _ := meter.Int64Counter("querytuner.attempt.count",
		metric.WithDescription("Sandbox test attempts across all recommendations"),
	)
	providerFailures, _ := meter.Int64Counter("querytuner.provider.failures",
		metric.WithDescription("AI provider calls that failed, by provider"),
	)
	toolDuration, _ := meter.Float64Histogram("querytuner.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		RunCount:         runCount,
		RunDuration:      runDuration,
		RunErrors:        runErrors,
		AttemptCount:     attempts,
		ProviderFailures: providerFailures,
		ToolDuration:     toolDuration,
	}
}

func (i *Instruments) RecordRunDuration(ctx context.Context, ms float64) {
	i.RunDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementRuns(ctx context.Context) {
	i.RunCount.Add(ctx, 1)
}

func (i *Instruments) IncrementRunErrors(ctx context.Context, stage string) {
	i.RunErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (i *Instruments) IncrementAttempts(ctx context.Context) {
	i.AttemptCount.Add(ctx, 1)
}

func (i *Instruments) IncrementProviderFailures(ctx context.Context, provider string) {
	i.ProviderFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (i *Instruments) RecordToolDuration(ctx context.Context, tool string, ms float64) {
	i.ToolDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("mcp.tool", tool)))
}
