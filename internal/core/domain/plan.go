package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// seqScanRowThreshold is the actual row count above which a sequential scan
// is reported as an issue.
const seqScanRowThreshold = 1000

// Plan node types emitted by EXPLAIN (FORMAT JSON).
const (
	NodeSeqScan    = "Seq Scan"
	NodeNestedLoop = "Nested Loop"
	NodeHashJoin   = "Hash Join"
	NodeMergeJoin  = "Merge Join"
	NodeSort       = "Sort"
)

// PlanNode is a single node of a PostgreSQL execution plan tree.
// Missing keys decode to zero values.
type PlanNode struct {
	NodeType        string     `json:"Node Type"`
	RelationName    string     `json:"Relation Name,omitempty"`
	Schema          string     `json:"Schema,omitempty"`
	Alias           string     `json:"Alias,omitempty"`
	IndexName       string     `json:"Index Name,omitempty"`
	IndexCond       string     `json:"Index Cond,omitempty"`
	Filter          string     `json:"Filter,omitempty"`
	JoinType        string     `json:"Join Type,omitempty"`
	HashCond        string     `json:"Hash Cond,omitempty"`
	SortKey         []string   `json:"Sort Key,omitempty"`
	SortMethod      string     `json:"Sort Method,omitempty"`
	StartupCost     float64    `json:"Startup Cost"`
	TotalCost       float64    `json:"Total Cost"`
	PlanRows        float64    `json:"Plan Rows"`
	ActualRows      float64    `json:"Actual Rows"`
	ActualTotalTime float64    `json:"Actual Total Time"`
	ActualLoops     float64    `json:"Actual Loops,omitempty"`
	Plans           []PlanNode `json:"Plans,omitempty"`
}

// ExecutionPlan is the top-level EXPLAIN ANALYZE output for one statement.
type ExecutionPlan struct {
	Plan          PlanNode `json:"Plan"`
	PlanningTime  float64  `json:"Planning Time"`
	ExecutionTime float64  `json:"Execution Time"`
}

// ParseExplainJSON decodes EXPLAIN (FORMAT JSON) output. It accepts the
// one-element array PostgreSQL returns, a bare {"Plan": ...} object, or a
// bare plan node.
func ParseExplainJSON(data []byte) (*ExecutionPlan, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty explain output")
	}

	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decoding explain array: %w", err)
		}
		if len(items) == 0 {
			return &ExecutionPlan{}, nil
		}
		data = items[0]
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding explain object: %w", err)
	}

	var plan ExecutionPlan
	if _, ok := probe["Plan"]; ok {
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("decoding explain plan: %w", err)
		}
		return &plan, nil
	}

	if err := json.Unmarshal(data, &plan.Plan); err != nil {
		return nil, fmt.Errorf("decoding plan node: %w", err)
	}
	return &plan, nil
}

// ScanStat describes a scan node found while walking a plan.
type ScanStat struct {
	Table string  `json:"table"`
	Index string  `json:"index,omitempty"`
	Rows  float64 `json:"rows,omitempty"`
	Cost  float64 `json:"cost,omitempty"`
}

// PlanStats aggregates node counts for a plan.
type PlanStats struct {
	SeqScanCount   int            `json:"seq_scan_count"`
	IndexScanCount int            `json:"index_scan_count"`
	JoinTypeCounts map[string]int `json:"join_type_counts"`
	TotalCost      float64        `json:"total_cost"`
	SeqScans       []ScanStat     `json:"seq_scans,omitempty"`
	IndexScans     []ScanStat     `json:"index_scans,omitempty"`
}

// PlanAnalysis is the derived, read-only view of one executed query.
type PlanAnalysis struct {
	Issues          []string  `json:"issues"`
	Suggestions     []string  `json:"suggestions"`
	Stats           PlanStats `json:"stats"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	PlanningTimeMS  float64   `json:"planning_time_ms"`
}

// AnalyzePlan walks the plan depth-first and derives issues and statistics.
// A nil plan yields an empty analysis.
func AnalyzePlan(plan *ExecutionPlan) PlanAnalysis {
	analysis := PlanAnalysis{
		Issues:      []string{},
		Suggestions: []string{},
		Stats:       PlanStats{JoinTypeCounts: map[string]int{}},
	}
	if plan == nil {
		return analysis
	}

	analysis.ExecutionTimeMS = plan.ExecutionTime
	analysis.PlanningTimeMS = plan.PlanningTime
	analysis.Stats.TotalCost = plan.Plan.TotalCost

	walkPlan(&plan.Plan, 0, func(node *PlanNode, depth int) bool {
		inspectNode(node, depth, &analysis)
		return true
	})

	stats := analysis.Stats
	if stats.SeqScanCount > 0 && stats.IndexScanCount == 0 {
		analysis.Suggestions = append(analysis.Suggestions,
			"No indexes are being used - consider adding relevant indexes")
	}
	if stats.JoinTypeCounts[NodeNestedLoop] > 2 {
		analysis.Suggestions = append(analysis.Suggestions,
			"Multiple nested loops detected - query might benefit from restructuring")
	}

	return analysis
}

func inspectNode(node *PlanNode, depth int, a *PlanAnalysis) {
	relation := node.RelationName
	if relation == "" {
		relation = "unknown"
	}

	switch {
	case node.NodeType == NodeSeqScan:
		a.Stats.SeqScanCount++
		a.Stats.SeqScans = append(a.Stats.SeqScans, ScanStat{
			Table: relation,
			Rows:  node.ActualRows,
			Cost:  node.TotalCost,
		})
		if node.ActualRows > seqScanRowThreshold {
			a.Issues = append(a.Issues,
				fmt.Sprintf("Sequential scan on '%s' returning %.0f rows", relation, node.ActualRows))
			a.Suggestions = append(a.Suggestions,
				fmt.Sprintf("Consider adding an index on '%s' for the filtered columns", relation))
		}

	case strings.Contains(node.NodeType, "Index"):
		index := node.IndexName
		if index == "" {
			index = "unknown"
		}
		a.Stats.IndexScanCount++
		a.Stats.IndexScans = append(a.Stats.IndexScans, ScanStat{Table: relation, Index: index})

	case node.NodeType == NodeNestedLoop:
		a.Stats.JoinTypeCounts[NodeNestedLoop]++
		if depth == 0 {
			a.Issues = append(a.Issues, "Top-level Nested Loop join may be slow for large datasets")
		}

	case node.NodeType == NodeHashJoin, node.NodeType == NodeMergeJoin:
		a.Stats.JoinTypeCounts[node.NodeType]++

	case node.NodeType == NodeSort:
		if strings.HasPrefix(node.SortMethod, "external") {
			a.Issues = append(a.Issues,
				fmt.Sprintf("External sort on disk for keys: [%s]", strings.Join(node.SortKey, ", ")))
			a.Suggestions = append(a.Suggestions, "Consider adding an index to avoid disk-based sorting")
		}
	}
}

// HasSeqScan reports whether any node in the plan is a sequential scan.
// It is pure and safe to call repeatedly.
func HasSeqScan(plan *ExecutionPlan) bool {
	if plan == nil {
		return false
	}
	found := false
	walkPlan(&plan.Plan, 0, func(node *PlanNode, _ int) bool {
		if node.NodeType == NodeSeqScan {
			found = true
			return false
		}
		return true
	})
	return found
}

// walkPlan visits nodes depth-first. Returning false from visit stops the walk.
func walkPlan(node *PlanNode, depth int, visit func(*PlanNode, int) bool) bool {
	if !visit(node, depth) {
		return false
	}
	for i := range node.Plans {
		if !walkPlan(&node.Plans[i], depth+1, visit) {
			return false
		}
	}
	return true
}

// FormatPlan renders the plan tree as indented text for display.
func FormatPlan(plan *ExecutionPlan) string {
	if plan == nil {
		return ""
	}
	var lines []string
	walkPlan(&plan.Plan, 0, func(node *PlanNode, depth int) bool {
		prefix := strings.Repeat("  ", depth)
		if depth > 0 {
			prefix += "-> "
		}

		nodeType := node.NodeType
		if nodeType == "" {
			nodeType = "Unknown"
		}
		parts := []string{nodeType}
		if node.RelationName != "" {
			parts = append(parts, "on "+node.RelationName)
		}
		if node.IndexName != "" {
			parts = append(parts, "using "+node.IndexName)
		}
		if node.Filter != "" {
			parts = append(parts, "(filter: "+node.Filter+")")
		}

		lines = append(lines, prefix+strings.Join(parts, " "))
		lines = append(lines, fmt.Sprintf("%s  (rows=%.0f, time=%.3fms)",
			strings.Repeat(" ", len(prefix)), node.ActualRows, node.ActualTotalTime))
		return true
	})
	return strings.Join(lines, "\n")
}
