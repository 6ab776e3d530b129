package port

import (
	"context"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
)

// RecommendationRequest carries everything the provider sees for the
// initial round of recommendations.
type RecommendationRequest struct {
	Query           string
	Plan            *domain.ExecutionPlan
	ExecutionTimeMS float64
	Issues          []string
	Warnings        []string
	Tables          []domain.TableInfo
}

// RefinementRequest asks for an improved version of a recommendation that
// did not yet meet the goal.
type RefinementRequest struct {
	Query         string
	Previous      domain.Recommendation
	TestedPlan    *domain.ExecutionPlan
	TestedTimeMS  float64
	BaselineMS    float64
	Improvement   float64
	CurrentTables []domain.TableInfo
	Threshold     float64
}

// RecommendationProvider produces optimization recommendations, trying
// configured AI backends in priority order.
type RecommendationProvider interface {
	GetRecommendations(ctx context.Context, req RecommendationRequest) ([]domain.Recommendation, domain.ProviderInfo, error)
	GetRefinement(ctx context.Context, req RefinementRequest) (domain.Recommendation, domain.ProviderInfo, error)
}
