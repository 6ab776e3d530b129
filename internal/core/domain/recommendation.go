package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RecommendationType classifies what a recommendation changes.
type RecommendationType string

const (
	RecommendationIndex   RecommendationType = "index"
	RecommendationRewrite RecommendationType = "rewrite"
	RecommendationConfig  RecommendationType = "config"
	RecommendationSchema  RecommendationType = "schema"
)

// Improvement is the provider's own estimate of impact.
type Improvement string

const (
	ImprovementLow    Improvement = "low"
	ImprovementMedium Improvement = "medium"
	ImprovementHigh   Improvement = "high"
)

// InitialRecommendationCount is how many recommendations are requested and kept.
const InitialRecommendationCount = 3

const defaultDescription = "No description provided"

// Recommendation is a validated, fully populated optimization idea.
type Recommendation struct {
	Type                RecommendationType `json:"type"`
	Description         string             `json:"description"`
	OptimizedQuery      string             `json:"optimized_query"`
	SuggestedIndexes    []string           `json:"suggested_indexes"`
	ExpectedImprovement Improvement        `json:"expected_improvement"`
	Explanation         string             `json:"explanation"`
	Rank                int                `json:"rank"`
}

// rawRecommendation mirrors the provider JSON. Pointers distinguish absent
// fields from empty ones.
type rawRecommendation struct {
	Type                *string   `json:"type"`
	Description         *string   `json:"description"`
	OptimizedQuery      *string   `json:"optimized_query"`
	SuggestedIndexes    *[]string `json:"suggested_indexes"`
	ExpectedImprovement *string   `json:"expected_improvement"`
	Explanation         *string   `json:"explanation"`
}

// ParseRecommendations decodes a provider response that must be a JSON array,
// keeps at most three entries and fills defaults. originalQuery is used when
// a recommendation omits optimized_query.
func ParseRecommendations(text, originalQuery string) ([]Recommendation, error) {
	body := StripCodeFence(text)

	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return nil, fmt.Errorf("expected a JSON array of recommendations: %w", err)
	}
	if len(raws) == 0 {
		return nil, fmt.Errorf("provider returned no recommendations")
	}

	if len(raws) > InitialRecommendationCount {
		raws = raws[:InitialRecommendationCount]
	}
	recs := make([]Recommendation, 0, len(raws))
	for i, item := range raws {
		var raw rawRecommendation
		if err := json.Unmarshal(item, &raw); err != nil {
			return nil, fmt.Errorf("recommendation %d is not an object: %w", i+1, err)
		}
		rec := Recommendation{
			Type:                RecommendationRewrite,
			Description:         defaultDescription,
			OptimizedQuery:      originalQuery,
			SuggestedIndexes:    []string{},
			ExpectedImprovement: ImprovementMedium,
			Rank:                i + 1,
		}
		rec = overlay(rec, raw)
		recs = append(recs, rec)
	}
	return recs, nil
}

// ParseRefinement decodes a provider response that must be a single JSON
// object and applies it to current. Fields the response leaves out, or sends
// with an invalid value, keep their current value.
func ParseRefinement(text string, current Recommendation) (Recommendation, error) {
	body := StripCodeFence(text)
	if !strings.HasPrefix(body, "{") {
		return Recommendation{}, fmt.Errorf("expected a JSON object for refinement")
	}
	var raw rawRecommendation
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Recommendation{}, fmt.Errorf("decoding refinement: %w", err)
	}
	return overlay(current.Clone(), raw), nil
}

// overlay copies every present, valid field of raw onto rec.
func overlay(rec Recommendation, raw rawRecommendation) Recommendation {
	if raw.Type != nil {
		switch t := RecommendationType(strings.ToLower(strings.TrimSpace(*raw.Type))); t {
		case RecommendationIndex, RecommendationRewrite, RecommendationConfig, RecommendationSchema:
			rec.Type = t
		}
	}
	if raw.Description != nil && strings.TrimSpace(*raw.Description) != "" {
		rec.Description = *raw.Description
	}
	if raw.OptimizedQuery != nil && strings.TrimSpace(*raw.OptimizedQuery) != "" {
		rec.OptimizedQuery = *raw.OptimizedQuery
	}
	if raw.SuggestedIndexes != nil {
		rec.SuggestedIndexes = []string{}
		for _, ddl := range *raw.SuggestedIndexes {
			if ddl = strings.TrimSpace(ddl); ddl != "" {
				rec.SuggestedIndexes = append(rec.SuggestedIndexes, ddl)
			}
		}
	}
	if raw.ExpectedImprovement != nil {
		switch e := Improvement(strings.ToLower(strings.TrimSpace(*raw.ExpectedImprovement))); e {
		case ImprovementLow, ImprovementMedium, ImprovementHigh:
			rec.ExpectedImprovement = e
		}
	}
	if raw.Explanation != nil {
		rec.Explanation = *raw.Explanation
	}
	if rec.SuggestedIndexes == nil {
		rec.SuggestedIndexes = []string{}
	}
	return rec
}

// StripCodeFence removes a surrounding ``` or ```json fence if present.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Merge applies a refinement on top of the current working copy. Empty
// fields of refined keep the working copy's value, and the rank of the
// working copy is always kept.
func (r Recommendation) Merge(refined Recommendation) Recommendation {
	out := r.Clone()
	if refined.Type != "" {
		out.Type = refined.Type
	}
	if refined.Description != "" {
		out.Description = refined.Description
	}
	if strings.TrimSpace(refined.OptimizedQuery) != "" {
		out.OptimizedQuery = refined.OptimizedQuery
	}
	if refined.SuggestedIndexes != nil {
		out.SuggestedIndexes = append([]string{}, refined.SuggestedIndexes...)
	}
	if refined.ExpectedImprovement != "" {
		out.ExpectedImprovement = refined.ExpectedImprovement
	}
	if refined.Explanation != "" {
		out.Explanation = refined.Explanation
	}
	if out.SuggestedIndexes == nil {
		out.SuggestedIndexes = []string{}
	}
	return out
}

// Clone returns a copy that shares no slices with r.
func (r Recommendation) Clone() Recommendation {
	r.SuggestedIndexes = append([]string{}, r.SuggestedIndexes...)
	return r
}
