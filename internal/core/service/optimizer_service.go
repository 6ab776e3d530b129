package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// Policy bounds an optimization run.
type Policy struct {
	MaxAttempts          int
	ImprovementThreshold float64
	QueryTimeout         time.Duration
	SandboxQueryTimeout  time.Duration
	// CloneRowLimit caps the rows copied per table into a sandbox; zero copies all.
	CloneRowLimit int
	Parallel      bool
}

// DefaultPolicy returns the stock loop bounds and timeouts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:          domain.DefaultMaxAttempts,
		ImprovementThreshold: domain.DefaultImprovementThreshold,
		QueryTimeout:         5 * time.Minute,
		SandboxQueryTimeout:  60 * time.Second,
	}
}

// cleanupTimeout bounds sandbox teardown, which runs even after the
// caller's context is done.
const cleanupTimeout = 30 * time.Second

// QueryReport is the baseline analysis of a query without AI involvement.
type QueryReport struct {
	Validation    domain.ValidationResult `json:"validation"`
	Plan          *domain.ExecutionPlan   `json:"plan"`
	ExecutionTime float64                 `json:"execution_time_ms"`
	PlanningTime  float64                 `json:"planning_time_ms"`
	HasSeqScan    bool                    `json:"has_seq_scan"`
	Analysis      domain.PlanAnalysis     `json:"analysis"`
	FormattedPlan string                  `json:"formatted_plan"`
}

// OptimizerService runs the baseline, asks the recommendation provider for
// ideas and tests each one in its own sandbox schema.
type OptimizerService struct {
	gateway   port.SandboxGateway
	provider  port.RecommendationProvider
	validator port.QueryValidator
	rewriter  port.ReferenceRewriter
	auditor   port.RunAuditor
	logger    *slog.Logger
	policy    Policy
	tracer    trace.Tracer
	inst      port.Instrumentation

	newSandboxName func() string
}

// NewOptimizerService returns domain.ErrNoProviders when provider is nil.
// Zero policy fields fall back to DefaultPolicy values.
func NewOptimizerService(
	gateway port.SandboxGateway,
	provider port.RecommendationProvider,
	validator port.QueryValidator,
	rewriter port.ReferenceRewriter,
	auditor port.RunAuditor,
	logger *slog.Logger,
	policy Policy,
	tracer trace.Tracer,
	inst port.Instrumentation,
) (*OptimizerService, error) {
	if provider == nil {
		return nil, domain.ErrNoProviders
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if validator == nil {
		validator = domain.NewQueryValidator()
	}
	if rewriter == nil {
		rewriter = domain.NewRegexRewriter()
	}
	if auditor == nil {
		auditor = noopAuditor{}
	}

	def := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.ImprovementThreshold <= 0 {
		policy.ImprovementThreshold = def.ImprovementThreshold
	}
	if policy.QueryTimeout <= 0 {
		policy.QueryTimeout = def.QueryTimeout
	}
	if policy.SandboxQueryTimeout <= 0 {
		policy.SandboxQueryTimeout = def.SandboxQueryTimeout
	}

	return &OptimizerService{
		gateway:        gateway,
		provider:       provider,
		validator:      validator,
		rewriter:       rewriter,
		auditor:        auditor,
		logger:         logger,
		policy:         policy,
		tracer:         tracer,
		inst:           inst,
		newSandboxName: randomSandboxName,
	}, nil
}

func randomSandboxName() string {
	return domain.SandboxPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, port.AuditEntry) {}
func (noopAuditor) Close() error                            { return nil }

// Validate runs the static query check.
func (s *OptimizerService) Validate(sql string) domain.ValidationResult {
	return s.validator.Validate(sql)
}

// DescribeTable returns table metadata as the provider would see it.
func (s *OptimizerService) DescribeTable(ctx context.Context, schema, table string) (*domain.TableInfo, error) {
	return s.gateway.DescribeTable(ctx, schema, table)
}

// Analyze validates and executes the query once and returns the derived
// plan analysis. No sandbox is created and no provider is called.
func (s *OptimizerService) Analyze(ctx context.Context, sql string) (*QueryReport, error) {
	ctx, span := s.tracer.Start(ctx, "OptimizerService.Analyze",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	validation := s.validator.Validate(sql)
	if !validation.IsValid {
		err := &domain.ValidationError{Errors: validation.Errors}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res, err := s.gateway.ExecuteWithPlan(ctx, sql, s.policy.QueryTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("executing query: %w", err)
	}

	return &QueryReport{
		Validation:    validation,
		Plan:          res.Plan,
		ExecutionTime: res.ExecutionTimeMS,
		PlanningTime:  res.PlanningTimeMS,
		HasSeqScan:    domain.HasSeqScan(res.Plan),
		Analysis:      domain.AnalyzePlan(res.Plan),
		FormattedPlan: domain.FormatPlan(res.Plan),
	}, nil
}

// Optimize runs the full pipeline. The returned run is never nil; when err
// is non-nil the run is in the aborted state and Stage names where it
// stopped. Failures of individual recommendations are reported on the
// recommendation, not as an error.
func (s *OptimizerService) Optimize(ctx context.Context, sql string, testRecommendations bool) (*domain.OptimizationRun, error) {
	ctx, span := s.tracer.Start(ctx, "OptimizerService.Optimize",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", sql),
			attribute.Bool("optimizer.test_recommendations", testRecommendations),
		),
	)
	defer span.End()

	run := &domain.OptimizationRun{
		State:           domain.StateValidating,
		OriginalQuery:   sql,
		Recommendations: []domain.TestedRecommendation{},
	}

	start := time.Now()
	err := s.optimize(ctx, run, testRecommendations)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordRunDuration(ctx, float64(durationMS))
	s.inst.IncrementRuns(ctx)

	if err != nil {
		run.State = domain.StateAborted
		run.Success = false
		run.Error = err.Error()

		s.logger.WarnContext(ctx, "optimization aborted",
			slog.String("stage", string(run.Stage)),
			slog.String("db.statement", sql),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementRunErrors(ctx, string(run.Stage))
	} else {
		span.SetAttributes(attribute.Int("optimizer.recommendations", len(run.Recommendations)))
	}

	s.auditor.Record(ctx, auditEntry(ctx, run, durationMS, err))
	return run, err
}

func auditEntry(ctx context.Context, run *domain.OptimizationRun, durationMS int64, err error) port.AuditEntry {
	entry := port.AuditEntry{
		Tool:            toolNameFromCtx(ctx),
		SQL:             run.OriginalQuery,
		Fingerprint:     domain.Fingerprint(run.OriginalQuery),
		Stage:           string(run.Stage),
		Success:         run.Success,
		Recommendations: len(run.Recommendations),
		DurationMS:      durationMS,
		Err:             err,
	}
	if run.Provider != nil {
		entry.Provider = run.Provider.Provider
	}
	if run.Tested && len(run.Recommendations) > 0 {
		entry.BestImprovement = run.Recommendations[0].ImprovementPercentage
	}
	return entry
}

func (s *OptimizerService) optimize(ctx context.Context, run *domain.OptimizationRun, testRecommendations bool) error {
	validation := s.validator.Validate(run.OriginalQuery)
	run.Warnings = validation.Warnings
	if !validation.IsValid {
		run.Stage = domain.StageValidation
		run.Errors = validation.Errors
		return &domain.ValidationError{Errors: validation.Errors}
	}

	run.State = domain.StateBaselineExecuting
	res, err := s.gateway.ExecuteWithPlan(ctx, run.OriginalQuery, s.policy.QueryTimeout)
	if err != nil {
		run.Stage = domain.StageExecution
		return fmt.Errorf("baseline execution: %w", err)
	}
	analysis := domain.AnalyzePlan(res.Plan)
	run.BaselinePlan = res.Plan
	run.BaselineExecutionTime = res.ExecutionTimeMS
	run.BaselinePlanningTime = res.PlanningTimeMS
	run.HasSeqScan = domain.HasSeqScan(res.Plan)
	run.Analysis = &analysis

	refs := domain.ParseTableRefs(domain.ExtractTables(run.OriginalQuery))
	tables := s.describeTables(ctx, refs, "")
	if len(tables) > 0 {
		run.TableInfo = make(map[string]domain.TableInfo, len(tables))
		for _, t := range tables {
			run.TableInfo[t.QualifiedName()] = t
			run.TablesAnalyzed = append(run.TablesAnalyzed, t.QualifiedName())
		}
	}

	run.State = domain.StateRecommending
	recs, info, err := s.provider.GetRecommendations(ctx, port.RecommendationRequest{
		Query:           run.OriginalQuery,
		Plan:            res.Plan,
		ExecutionTimeMS: res.ExecutionTimeMS,
		Issues:          analysis.Issues,
		Warnings:        validation.Warnings,
		Tables:          tables,
	})
	if err != nil {
		run.Stage = domain.StageRecommendations
		return fmt.Errorf("getting recommendations: %w", err)
	}
	run.Provider = &info

	if !testRecommendations {
		for _, rec := range recs {
			run.Recommendations = append(run.Recommendations, domain.Untested(rec, run.OriginalQuery))
		}
		run.State = domain.StateRanked
		run.Success = true
		return nil
	}

	run.State = domain.StateTestingEach
	run.Tested = true
	run.Recommendations = s.testAll(ctx, baseline{
		query:      run.OriginalQuery,
		refs:       refs,
		timeMS:     res.ExecutionTimeMS,
		hasSeqScan: run.HasSeqScan,
	}, recs)
	domain.RankRecommendations(run.Recommendations)

	run.State = domain.StateRanked
	run.Success = true
	return nil
}

// describeTables fetches metadata for refs. With a non-empty sandbox every
// table is looked up in that schema instead of its source schema. Tables
// that cannot be described are skipped.
func (s *OptimizerService) describeTables(ctx context.Context, refs []domain.TableRef, sandbox string) []domain.TableInfo {
	tables := make([]domain.TableInfo, 0, len(refs))
	for _, ref := range refs {
		schema := ref.Schema
		if sandbox != "" {
			schema = sandbox
		}
		info, err := s.gateway.DescribeTable(ctx, schema, ref.Name)
		if err != nil {
			s.logger.DebugContext(ctx, "describe table failed",
				slog.String("table", ref.String()),
				slog.String("schema", schema),
				slog.String("error", err.Error()),
			)
			continue
		}
		tables = append(tables, *info)
	}
	return tables
}
