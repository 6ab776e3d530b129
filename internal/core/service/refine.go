package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// baseline is what every recommendation is measured against.
type baseline struct {
	query      string
	refs       []domain.TableRef
	timeMS     float64
	hasSeqScan bool
}

// observation is one successful sandbox execution.
type observation struct {
	rec         domain.Recommendation
	result      *domain.TestResult
	improvement float64
	hasSeqScan  bool
}

// beats orders observations the same way recommendations are ranked.
func (o *observation) beats(other *observation) bool {
	if other == nil {
		return true
	}
	if o.hasSeqScan != other.hasSeqScan {
		return !o.hasSeqScan
	}
	return o.improvement > other.improvement
}

// testAll tests every recommendation. Results keep the input order.
func (s *OptimizerService) testAll(ctx context.Context, base baseline, recs []domain.Recommendation) []domain.TestedRecommendation {
	out := make([]domain.TestedRecommendation, len(recs))
	if !s.policy.Parallel {
		for i, rec := range recs {
			out[i] = s.testRecommendation(ctx, base, rec)
		}
		return out
	}

	// Each loop owns its sandbox schema and opens its own connections.
	var g errgroup.Group
	g.SetLimit(domain.InitialRecommendationCount)
	for i, rec := range recs {
		g.Go(func() error {
			out[i] = s.testRecommendation(ctx, base, rec)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// testRecommendation runs the bounded refinement loop for one
// recommendation inside a private sandbox schema. The schema is dropped on
// every exit path.
func (s *OptimizerService) testRecommendation(ctx context.Context, base baseline, rec domain.Recommendation) domain.TestedRecommendation {
	sandbox := s.newSandboxName()
	ctx, span := s.tracer.Start(ctx, "OptimizerService.TestRecommendation",
		trace.WithAttributes(
			attribute.Int("recommendation.rank", rec.Rank),
			attribute.String("recommendation.type", string(rec.Type)),
			attribute.String("sandbox.schema", sandbox),
		),
	)
	defer span.End()

	result := domain.TestedRecommendation{
		Recommendation:      rec.Clone(),
		Status:              domain.StatusFailed,
		AllIndexesApplied:   []string{},
		FinalOptimizedQuery: rec.OptimizedQuery,
		OriginalQuery:       base.query,
		History:             []domain.AttemptSnapshot{},
	}
	logger := s.logger.With(slog.String("sandbox.schema", sandbox), slog.Int("recommendation.rank", rec.Rank))

	defer s.destroySandbox(ctx, logger, sandbox)
	if err := s.gateway.CreateSandbox(ctx, sandbox); err != nil {
		logger.WarnContext(ctx, "sandbox creation failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Error = err.Error()
		s.annotate(&result, base, nil)
		return result
	}
	// Only cloned tables are redirected into the sandbox. The rest keep
	// resolving against their source schema.
	cloned := make([]domain.TableRef, 0, len(base.refs))
	for _, ref := range base.refs {
		if err := s.gateway.CloneTable(ctx, ref, sandbox, s.policy.CloneRowLimit); err != nil {
			logger.WarnContext(ctx, "table clone failed",
				slog.String("table", ref.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		cloned = append(cloned, ref)
	}

	current := rec.Clone()
	tried := make(map[string]bool)
	var best *observation

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		s.inst.IncrementAttempts(ctx)
		snap := domain.AttemptSnapshot{
			Iteration:      attempt,
			Recommendation: current.Clone(),
			IndexesApplied: []string{},
		}

		for _, ddl := range current.SuggestedIndexes {
			if tried[ddl] {
				continue
			}
			tried[ddl] = true
			if _, err := s.gateway.CreateIndex(ctx, sandbox, ddl, cloned); err != nil {
				logger.WarnContext(ctx, "index creation failed",
					slog.Int("attempt", attempt),
					slog.String("ddl", ddl),
					slog.String("error", err.Error()),
				)
				continue
			}
			snap.IndexesApplied = append(snap.IndexesApplied, ddl)
			result.AllIndexesApplied = append(result.AllIndexesApplied, ddl)
		}

		if v := s.validator.Validate(current.OptimizedQuery); !v.IsValid {
			snap.Error = "optimized query rejected: " + strings.Join(v.Errors, "; ")
			snap.Reason = []string{"optimized query failed validation"}
			result.History = append(result.History, snap)
			result.Error = snap.Error
			break
		}

		query := s.rewriter.RewriteQuery(current.OptimizedQuery, cloned, sandbox)
		res, err := s.gateway.ExecuteWithPlan(ctx, query, s.policy.SandboxQueryTimeout)
		if err != nil {
			logger.WarnContext(ctx, "sandbox execution failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			snap.Error = err.Error()
			snap.Reason = []string{"sandbox execution failed"}
			result.History = append(result.History, snap)
			result.Error = err.Error()
			if best == nil {
				result.TestResult = &domain.TestResult{Success: false, Error: err.Error()}
			}
			break
		}

		obs := &observation{
			rec: current.Clone(),
			result: &domain.TestResult{
				Success:         true,
				ExecutionTimeMS: domain.Round2(res.ExecutionTimeMS),
				PlanningTimeMS:  domain.Round2(res.PlanningTimeMS),
				Plan:            res.Plan,
			},
			improvement: domain.ImprovementPercent(base.timeMS, res.ExecutionTimeMS),
			hasSeqScan:  domain.HasSeqScan(res.Plan),
		}
		if obs.beats(best) {
			best = obs
		}
		snap.ExecutionTimeMS = obs.result.ExecutionTimeMS
		snap.StillHasSeqScan = obs.hasSeqScan
		snap.ImprovementPercentage = domain.Round2(obs.improvement)

		seqGoal := !base.hasSeqScan || !obs.hasSeqScan
		if seqGoal && obs.improvement >= s.policy.ImprovementThreshold {
			snap.Reason = []string{"goal met"}
			result.History = append(result.History, snap)
			logger.DebugContext(ctx, "recommendation met goal", slog.Int("attempt", attempt))
			break
		}

		snap.Reason = s.unmetReasons(seqGoal, obs.improvement)
		if attempt == s.policy.MaxAttempts {
			snap.Reason = append(snap.Reason, "maximum attempts reached")
			result.History = append(result.History, snap)
			break
		}
		result.History = append(result.History, snap)

		refined, _, err := s.provider.GetRefinement(ctx, port.RefinementRequest{
			Query:         base.query,
			Previous:      current,
			TestedPlan:    res.Plan,
			TestedTimeMS:  res.ExecutionTimeMS,
			BaselineMS:    base.timeMS,
			Improvement:   obs.improvement,
			CurrentTables: s.describeTables(ctx, cloned, sandbox),
			Threshold:     s.policy.ImprovementThreshold,
		})
		if err != nil {
			logger.WarnContext(ctx, "refinement failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			result.Error = "refinement failed: " + err.Error()
			break
		}
		current = current.Merge(refined)
	}

	s.annotate(&result, base, best)
	span.SetAttributes(
		attribute.Int("optimizer.attempts", result.OptimizationAttempts),
		attribute.Float64("optimizer.improvement", result.ImprovementPercentage),
	)
	return result
}

func (s *OptimizerService) unmetReasons(seqGoal bool, improvement float64) []string {
	var reasons []string
	if !seqGoal {
		reasons = append(reasons, "sequential scan still present")
	}
	if improvement < s.policy.ImprovementThreshold {
		reasons = append(reasons, fmt.Sprintf("improvement %.2f%% below %.0f%% threshold",
			improvement, s.policy.ImprovementThreshold))
	}
	return reasons
}

// annotate fills the summary fields from the best observation. A nil
// observation means nothing ran successfully in the sandbox. result.Error
// keeps the error that ended the loop, if any.
func (s *OptimizerService) annotate(result *domain.TestedRecommendation, base baseline, best *observation) {
	result.OptimizationAttempts = len(result.History)
	if best == nil {
		result.Status = domain.StatusFailed
		result.NeedsMoreImprovement = true
		result.QueryWasRewritten = normalizeSQL(result.FinalOptimizedQuery) != normalizeSQL(base.query)
		return
	}

	rank := result.Rank
	result.Recommendation = best.rec
	result.Rank = rank
	result.TestResult = best.result
	result.TestedExecutionTimeMS = best.result.ExecutionTimeMS
	result.ImprovementPercentage = domain.Round2(best.improvement)
	result.SeqScanEliminated = base.hasSeqScan && !best.hasSeqScan
	result.SeqScanGoalMet = !base.hasSeqScan || !best.hasSeqScan
	result.NeedsMoreImprovement = !result.SeqScanGoalMet || best.improvement < s.policy.ImprovementThreshold
	result.FinalOptimizedQuery = best.rec.OptimizedQuery
	result.QueryWasRewritten = normalizeSQL(best.rec.OptimizedQuery) != normalizeSQL(base.query)

	if best.improvement > 0 {
		result.Status = domain.StatusImproved
	} else {
		result.Status = domain.StatusNotImproved
	}
}

// destroySandbox drops the schema with a fresh deadline so that cleanup
// still happens when ctx is cancelled.
func (s *OptimizerService) destroySandbox(ctx context.Context, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.gateway.DestroySandbox(ctx, name); err != nil {
		logger.ErrorContext(ctx, "sandbox cleanup failed", slog.String("error", err.Error()))
	}
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(sql), ";")), " ")
}
