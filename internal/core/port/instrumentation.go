package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordRunDuration(ctx context.Context, ms float64)
	IncrementRuns(ctx context.Context)
	IncrementRunErrors(ctx context.Context, stage string)
	IncrementAttempts(ctx context.Context)
	IncrementProviderFailures(ctx context.Context, provider string)
	RecordToolDuration(ctx context.Context, tool string, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordRunDuration(context.Context, float64)          {}
func (NoopInstrumentation) IncrementRuns(context.Context)                       {}
func (NoopInstrumentation) IncrementRunErrors(context.Context, string)          {}
func (NoopInstrumentation) IncrementAttempts(context.Context)                   {}
func (NoopInstrumentation) IncrementProviderFailures(context.Context, string)   {}
func (NoopInstrumentation) RecordToolDuration(context.Context, string, float64) {}
