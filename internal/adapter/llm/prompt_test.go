package llm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/stretchr/testify/assert"
)

func TestBuildRecommendationPrompt(t *testing.T) {
	t.Parallel()
	nf := 0.1
	prompt := buildRecommendationPrompt(port.RecommendationRequest{
		Query:           "SELECT * FROM orders WHERE status = 'open'",
		Plan:            &domain.ExecutionPlan{Plan: domain.PlanNode{NodeType: domain.NodeSeqScan, RelationName: "orders"}},
		ExecutionTimeMS: 512.5,
		Issues:          []string{"Sequential scan on 'orders' returning 5000 rows"},
		Warnings:        []string{"Selecting all columns (SELECT *) can be inefficient"},
		Tables: []domain.TableInfo{{
			Schema: "public", Name: "orders", RowCount: 5000,
			Columns: []domain.ColumnInfo{
				{Name: "id", DataType: "integer"},
				{Name: "status", DataType: "text", Nullable: true, NullFraction: &nf, Selectivity: domain.SelectivityLow},
			},
		}},
	})

	for _, want := range []string{
		"exactly 3 different optimization recommendations",
		"SELECT * FROM orders WHERE status = 'open'",
		"### public.orders (~5000 rows)",
		"- id integer NOT NULL",
		"- status text [selectivity: low]",
		"Indexes: none",
		`"Node Type": "Seq Scan"`,
		"## Execution Time: 512.500ms",
		"- Sequential scan on 'orders' returning 5000 rows",
		"## Query Warnings:",
		"Return ONLY the JSON array",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestBuildRecommendationPrompt_NoIssues(t *testing.T) {
	t.Parallel()
	prompt := buildRecommendationPrompt(port.RecommendationRequest{Query: "SELECT 1"})
	assert.Contains(t, prompt, "No specific issues detected")
	assert.NotContains(t, prompt, "## Query Warnings:")
	assert.NotContains(t, prompt, "## Current Execution Plan:")
}

func TestPlanJSON_Truncated(t *testing.T) {
	t.Parallel()
	node := domain.PlanNode{NodeType: "Append"}
	for range 200 {
		node.Plans = append(node.Plans, domain.PlanNode{NodeType: domain.NodeSeqScan, RelationName: strings.Repeat("t", 20)})
	}
	out := planJSON(&domain.ExecutionPlan{Plan: node})
	assert.Len(t, out, maxPlanChars)
}

func TestPlanJSON_TruncatedOnRuneBoundary(t *testing.T) {
	t.Parallel()
	node := domain.PlanNode{NodeType: "Append"}
	for range 200 {
		node.Plans = append(node.Plans, domain.PlanNode{NodeType: domain.NodeSeqScan, RelationName: strings.Repeat("pedidos_año_日本", 3)})
	}
	out := planJSON(&domain.ExecutionPlan{Plan: node})
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), maxPlanChars)
	assert.Greater(t, len(out), maxPlanChars-utf8.UTFMax)
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"orders", 10, "orders"},
		{"orders", 3, "ord"},
		{"año", 2, "a"},
		{"año", 3, "añ"},
		{"日本", 4, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncateUTF8(tt.in, tt.n), "truncateUTF8(%q, %d)", tt.in, tt.n)
	}
}
