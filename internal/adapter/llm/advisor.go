package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/guillermoBallester/querytuner/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultProviderTimeout = 60 * time.Second
	defaultMaxRetries      = 2
)

// Advisor implements port.RecommendationProvider by trying each configured
// provider in priority order until one returns a parseable answer.
type Advisor struct {
	providers  []Provider
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	tracer     trace.Tracer
	instr      port.Instrumentation
}

var _ port.RecommendationProvider = (*Advisor)(nil)

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor)

// WithTimeout bounds each individual provider call.
func WithTimeout(d time.Duration) AdvisorOption {
	return func(a *Advisor) { a.timeout = d }
}

// WithMaxRetries sets how many times a retryable failure is repeated on the
// same provider before falling back to the next one.
func WithMaxRetries(n int) AdvisorOption {
	return func(a *Advisor) { a.maxRetries = n }
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) AdvisorOption {
	return func(a *Advisor) { a.newBackOff = fn }
}

func WithTracer(t trace.Tracer) AdvisorOption {
	return func(a *Advisor) { a.tracer = t }
}

func WithInstrumentation(i port.Instrumentation) AdvisorOption {
	return func(a *Advisor) { a.instr = i }
}

// NewAdvisor returns domain.ErrNoProviders when providers is empty.
func NewAdvisor(providers []Provider, logger *slog.Logger, opts ...AdvisorOption) (*Advisor, error) {
	if len(providers) == 0 {
		return nil, domain.ErrNoProviders
	}
	a := &Advisor{
		providers:  providers,
		timeout:    defaultProviderTimeout,
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
		logger: logger,
		tracer: telemetry.NoopTracer(),
		instr:  port.NoopInstrumentation{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ProvidersFromKeys builds the fixed priority list Gemini, DeepSeek, Groq,
// skipping any provider without a key.
func ProvidersFromKeys(geminiKey, geminiModel, deepSeekKey, deepSeekModel, groqKey, groqModel string) []Provider {
	var ps []Provider
	if geminiKey != "" {
		ps = append(ps, NewGemini(geminiKey, geminiModel))
	}
	if deepSeekKey != "" {
		ps = append(ps, NewDeepSeek(deepSeekKey, deepSeekModel))
	}
	if groqKey != "" {
		ps = append(ps, NewGroq(groqKey, groqModel))
	}
	return ps
}

func (a *Advisor) GetRecommendations(ctx context.Context, req port.RecommendationRequest) ([]domain.Recommendation, domain.ProviderInfo, error) {
	prompt := buildRecommendationPrompt(req)
	return fallback(ctx, a, "recommendations", prompt, func(text string) ([]domain.Recommendation, error) {
		return domain.ParseRecommendations(text, req.Query)
	})
}

func (a *Advisor) GetRefinement(ctx context.Context, req port.RefinementRequest) (domain.Recommendation, domain.ProviderInfo, error) {
	prompt := buildRefinementPrompt(req)
	return fallback(ctx, a, "refinement", prompt, func(text string) (domain.Recommendation, error) {
		return domain.ParseRefinement(text, req.Previous)
	})
}

// fallback walks the providers in order. A provider that errors or returns
// an unparseable answer is logged and skipped.
func fallback[T any](ctx context.Context, a *Advisor, kind, prompt string, parse func(string) (T, error)) (T, domain.ProviderInfo, error) {
	var (
		zero    T
		lastErr error
	)
	for _, p := range a.providers {
		if err := ctx.Err(); err != nil {
			return zero, domain.ProviderInfo{}, err
		}

		info := domain.ProviderInfo{Provider: p.Name(), DisplayName: p.DisplayName(), Model: p.Model()}
		out, err := try(ctx, a, p, kind, prompt, parse)
		if err == nil {
			a.logger.Info("provider succeeded",
				slog.String("provider", p.Name()),
				slog.String("kind", kind),
			)
			return out, info, nil
		}

		lastErr = &domain.ProviderError{Provider: p.Name(), Err: err}
		a.instr.IncrementProviderFailures(ctx, p.Name())
		a.logger.Warn("provider failed",
			slog.String("provider", p.Name()),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	return zero, domain.ProviderInfo{}, &domain.AllProvidersFailedError{Last: lastErr}
}

// try calls one provider with retries on transient failures and parses
// the answer.
func try[T any](ctx context.Context, a *Advisor, p Provider, kind, prompt string, parse func(string) (T, error)) (T, error) {
	ctx, span := a.tracer.Start(ctx, "llm."+kind, trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", p.Model()),
	))
	defer span.End()

	text, err := backoff.Retry(ctx, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		text, err := p.Complete(callCtx, systemPrompt, prompt)
		if err == nil {
			return text, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return "", backoff.Permanent(err)
		}
		if errors.Is(err, ErrEmptyCompletion) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}, backoff.WithBackOff(a.newBackOff()), backoff.WithMaxTries(uint(a.maxRetries+1)))

	var zero T
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	out, err := parse(text)
	if err != nil {
		err = fmt.Errorf("parsing %s response: %w", kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	return out, nil
}
