package domain

import (
	"math"
	"sort"
)

// Policy defaults for the refinement loop.
const (
	DefaultMaxAttempts          = 5
	DefaultImprovementThreshold = 50.0
)

// ExplainResult is a successful EXPLAIN ANALYZE execution.
type ExplainResult struct {
	Plan            *ExecutionPlan `json:"plan"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	PlanningTimeMS  float64        `json:"planning_time_ms"`
}

// TestResult is the outcome of one sandbox test attempt.
type TestResult struct {
	Success         bool           `json:"success"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	PlanningTimeMS  float64        `json:"planning_time_ms"`
	Plan            *ExecutionPlan `json:"plan,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// AttemptSnapshot records what one refinement attempt tried and observed.
// Snapshots are appended and never modified.
type AttemptSnapshot struct {
	Iteration             int            `json:"attempt"`
	Recommendation        Recommendation `json:"recommendation"`
	IndexesApplied        []string       `json:"indexes_applied"`
	ExecutionTimeMS       float64        `json:"execution_time_ms"`
	StillHasSeqScan       bool           `json:"still_has_seq_scan"`
	ImprovementPercentage float64        `json:"improvement_percentage"`
	Reason                []string       `json:"reason"`
	Error                 string         `json:"error,omitempty"`
}

// TestStatus summarizes how testing ended for a recommendation.
type TestStatus string

const (
	StatusUntested    TestStatus = "untested"
	StatusImproved    TestStatus = "improved"
	StatusNotImproved TestStatus = "not_improved"
	StatusFailed      TestStatus = "failed"
)

// TestedRecommendation is a recommendation annotated with its test outcome.
type TestedRecommendation struct {
	Recommendation

	Status                TestStatus        `json:"status"`
	TestResult            *TestResult       `json:"test_result,omitempty"`
	TestedExecutionTimeMS float64           `json:"tested_execution_time_ms,omitempty"`
	ImprovementPercentage float64           `json:"improvement_percentage"`
	SeqScanEliminated     bool              `json:"seq_scan_eliminated"`
	SeqScanGoalMet        bool              `json:"seq_scan_goal_met"`
	NeedsMoreImprovement  bool              `json:"needs_more_improvement"`
	AllIndexesApplied     []string          `json:"all_indexes_applied"`
	FinalOptimizedQuery   string            `json:"final_optimized_query"`
	OriginalQuery         string            `json:"original_query"`
	QueryWasRewritten     bool              `json:"query_was_rewritten"`
	OptimizationAttempts  int               `json:"optimization_attempts"`
	History               []AttemptSnapshot `json:"optimization_history"`
	Error                 string            `json:"error,omitempty"`
}

// Untested wraps a raw recommendation without running it.
func Untested(rec Recommendation, originalQuery string) TestedRecommendation {
	return TestedRecommendation{
		Recommendation:      rec,
		Status:              StatusUntested,
		AllIndexesApplied:   []string{},
		FinalOptimizedQuery: rec.OptimizedQuery,
		OriginalQuery:       originalQuery,
		QueryWasRewritten:   rec.OptimizedQuery != originalQuery,
		History:             []AttemptSnapshot{},
	}
}

// ProviderInfo identifies which AI provider produced a response.
type ProviderInfo struct {
	Provider    string `json:"provider"`
	DisplayName string `json:"provider_name"`
	Model       string `json:"model"`
}

// Stage marks where a run stopped when it failed.
type Stage string

const (
	StageValidation      Stage = "validation"
	StageExecution       Stage = "execution"
	StageRecommendations Stage = "recommendations"
)

// RunState is the run-level state machine position.
type RunState string

const (
	StateValidating        RunState = "validating"
	StateBaselineExecuting RunState = "baseline_executing"
	StateRecommending      RunState = "recommending"
	StateTestingEach       RunState = "testing_each"
	StateRanked            RunState = "ranked"
	StateAborted           RunState = "aborted"
)

// OptimizationRun is the top-level output of one optimization request.
type OptimizationRun struct {
	Success  bool     `json:"success"`
	State    RunState `json:"state"`
	Stage    Stage    `json:"stage,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	OriginalQuery         string                 `json:"original_query"`
	BaselinePlan          *ExecutionPlan         `json:"original_plan,omitempty"`
	BaselineExecutionTime float64                `json:"original_execution_time"`
	BaselinePlanningTime  float64                `json:"original_planning_time"`
	HasSeqScan            bool                   `json:"original_has_seq_scan"`
	Analysis              *PlanAnalysis          `json:"analysis,omitempty"`
	TablesAnalyzed        []string               `json:"tables_analyzed,omitempty"`
	TableInfo             map[string]TableInfo   `json:"table_info,omitempty"`
	Tested                bool                   `json:"tested"`
	Recommendations       []TestedRecommendation `json:"recommendations"`
	Provider              *ProviderInfo          `json:"ai_provider,omitempty"`
}

// ImprovementPercent returns (baseline - tested) / baseline * 100, or 0 when
// the baseline is zero.
func ImprovementPercent(baselineMS, testedMS float64) float64 {
	if baselineMS <= 0 {
		return 0
	}
	return (baselineMS - testedMS) / baselineMS * 100
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RankRecommendations sorts by (seq scan eliminated, improvement) descending
// and assigns 1-based ranks. The sort is stable for equal keys.
func RankRecommendations(recs []TestedRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.SeqScanEliminated != b.SeqScanEliminated {
			return a.SeqScanEliminated
		}
		return a.ImprovementPercentage > b.ImprovementPercentage
	})
	for i := range recs {
		recs[i].Rank = i + 1
	}
}
