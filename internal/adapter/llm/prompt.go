package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
)

// maxPlanChars caps the plan JSON embedded in a prompt.
const maxPlanChars = 4000

const systemPrompt = "You are a PostgreSQL performance optimization expert. Always respond with valid JSON only."

const responseContract = `Each object must have:
- "type": one of "index", "rewrite", "config" or "schema"
- "description": clear explanation of what this optimization does and why it helps
- "optimized_query": the rewritten query (can be same as original if only index changes)
- "suggested_indexes": array of CREATE INDEX statements (empty array if not applicable)
- "expected_improvement": "high", "medium", or "low"
- "explanation": technical explanation of why this helps

Write CREATE INDEX statements against the table names exactly as they appear in the query.
Never include DROP, ALTER, TRUNCATE or data-modifying statements.`

func buildRecommendationPrompt(req port.RecommendationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following SQL query and its execution plan, then provide exactly %d different optimization recommendations.\n\n", domain.InitialRecommendationCount)

	writeQuery(&b, req.Query)
	writeTables(&b, "Table Structures", req.Tables)
	writePlan(&b, "Current Execution Plan", req.Plan)
	fmt.Fprintf(&b, "## Execution Time: %.3fms\n\n", req.ExecutionTimeMS)

	b.WriteString("## Current Issues Detected:\n")
	writeList(&b, req.Issues, "No specific issues detected")
	if len(req.Warnings) > 0 {
		b.WriteString("\n## Query Warnings:\n")
		writeList(&b, req.Warnings, "")
	}

	fmt.Fprintf(&b, "\n---\n\nProvide exactly %d optimization recommendations with different approaches. Each recommendation should be practical and testable.\n\n", domain.InitialRecommendationCount)
	fmt.Fprintf(&b, "Return your response as a valid JSON array with exactly %d objects. %s\n\n", domain.InitialRecommendationCount, responseContract)
	b.WriteString("IMPORTANT: Return ONLY the JSON array, no additional text or markdown formatting.\n")
	return b.String()
}

func buildRefinementPrompt(req port.RefinementRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A previous optimization recommendation was tested against a copy of the data and did not meet the goal: "+
		"no sequential scans and at least %.0f%% lower execution time than the original.\n\n", req.Threshold)

	writeQuery(&b, req.Query)

	prev, _ := json.MarshalIndent(req.Previous, "", "  ")
	b.WriteString("## Previous Recommendation:\n```json\n")
	b.Write(prev)
	b.WriteString("\n```\n\n")

	fmt.Fprintf(&b, "## Result: %.3fms tested vs %.3fms original (%.1f%% improvement)\n\n", req.TestedTimeMS, req.BaselineMS, req.Improvement)
	writePlan(&b, "Tested Execution Plan", req.TestedPlan)
	writeTables(&b, "Current Table Structures (including indexes already created)", req.CurrentTables)

	fmt.Fprintf(&b, "---\n\nProvide ONE improved recommendation as a single JSON object. %s\n\n", responseContract)
	b.WriteString("Only list indexes that do not already exist above.\n")
	b.WriteString("IMPORTANT: Return ONLY the JSON object, no additional text or markdown formatting.\n")
	return b.String()
}

func writeQuery(b *strings.Builder, query string) {
	b.WriteString("## Original Query:\n```sql\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n```\n\n")
}

func writePlan(b *strings.Builder, title string, plan *domain.ExecutionPlan) {
	if plan == nil {
		return
	}
	fmt.Fprintf(b, "## %s:\n```json\n%s\n```\n\n", title, planJSON(plan))
}

// planJSON renders the plan indented and truncated to maxPlanChars.
func planJSON(plan *domain.ExecutionPlan) string {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "{}"
	}
	return truncateUTF8(string(data), maxPlanChars)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func writeTables(b *strings.Builder, title string, tables []domain.TableInfo) {
	if len(tables) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s:\n", title)
	for _, t := range tables {
		fmt.Fprintf(b, "### %s (~%d rows)\n", t.QualifiedName(), t.RowCount)
		if t.Comment != "" {
			fmt.Fprintf(b, "%s\n", t.Comment)
		}
		b.WriteString("Columns:\n")
		for _, c := range t.Columns {
			fmt.Fprintf(b, "- %s %s", c.Name, c.DataType)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if c.Selectivity != "" {
				fmt.Fprintf(b, " [selectivity: %s]", c.Selectivity)
			}
			if c.Comment != "" {
				fmt.Fprintf(b, " -- %s", c.Comment)
			}
			b.WriteString("\n")
		}
		if len(t.Indexes) == 0 {
			b.WriteString("Indexes: none\n")
		} else {
			b.WriteString("Indexes:\n")
			for _, idx := range t.Indexes {
				fmt.Fprintf(b, "- %s\n", idx.Definition)
			}
		}
		b.WriteString("\n")
	}
}

func writeList(b *strings.Builder, items []string, empty string) {
	if len(items) == 0 {
		if empty != "" {
			b.WriteString(empty + "\n")
		}
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
