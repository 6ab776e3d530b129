package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/guillermoBallester/querytuner/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersQuery = "SELECT id FROM orders WHERE status = 'open'"

// --- fake SandboxGateway ---

type fakeGateway struct {
	mu sync.Mutex

	baselineErr error
	describeErr error
	destroyed   []string
}

func (g *fakeGateway) ExecuteWithPlan(_ context.Context, sql string, _ time.Duration) (*domain.ExplainResult, error) {
	if strings.Contains(sql, domain.SandboxPrefix) {
		return &domain.ExplainResult{
			Plan:            &domain.ExecutionPlan{Plan: domain.PlanNode{NodeType: "Index Scan", RelationName: "orders", IndexName: "idx"}},
			ExecutionTimeMS: 10,
		}, nil
	}
	if g.baselineErr != nil {
		return nil, g.baselineErr
	}
	return &domain.ExplainResult{
		Plan:            &domain.ExecutionPlan{Plan: domain.PlanNode{NodeType: domain.NodeSeqScan, RelationName: "orders", ActualRows: 5000}},
		ExecutionTimeMS: 100,
		PlanningTimeMS:  0.5,
	}, nil
}

func (g *fakeGateway) DescribeTable(_ context.Context, schema, table string) (*domain.TableInfo, error) {
	if g.describeErr != nil {
		return nil, g.describeErr
	}
	if schema == "" {
		schema = "public"
	}
	return &domain.TableInfo{
		Schema:   schema,
		Name:     table,
		Columns:  []domain.ColumnInfo{{Name: "id", DataType: "integer"}},
		Indexes:  []domain.IndexInfo{},
		RowCount: 5000,
	}, nil
}

func (g *fakeGateway) CreateSandbox(context.Context, string) error { return nil }

func (g *fakeGateway) DestroySandbox(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.destroyed = append(g.destroyed, name)
	return nil
}

func (g *fakeGateway) CloneTable(context.Context, domain.TableRef, string, int) error { return nil }

func (g *fakeGateway) CreateIndex(_ context.Context, _ string, ddl string, _ []domain.TableRef) (string, error) {
	return ddl, nil
}

func (g *fakeGateway) Ping(context.Context) (string, error) { return "PostgreSQL 16", nil }

// --- fake RecommendationProvider ---

type fakeProvider struct {
	err error
}

func (p *fakeProvider) GetRecommendations(context.Context, port.RecommendationRequest) ([]domain.Recommendation, domain.ProviderInfo, error) {
	if p.err != nil {
		return nil, domain.ProviderInfo{}, p.err
	}
	recs := make([]domain.Recommendation, 0, domain.InitialRecommendationCount)
	for i := range domain.InitialRecommendationCount {
		recs = append(recs, domain.Recommendation{
			Type:                domain.RecommendationIndex,
			Description:         fmt.Sprintf("index %d", i+1),
			OptimizedQuery:      ordersQuery,
			SuggestedIndexes:    []string{fmt.Sprintf("CREATE INDEX idx_%d ON orders (status)", i+1)},
			ExpectedImprovement: domain.ImprovementHigh,
			Rank:                i + 1,
		})
	}
	return recs, domain.ProviderInfo{Provider: "fake", DisplayName: "Fake", Model: "fake-1"}, nil
}

func (p *fakeProvider) GetRefinement(_ context.Context, req port.RefinementRequest) (domain.Recommendation, domain.ProviderInfo, error) {
	return req.Previous, domain.ProviderInfo{Provider: "fake"}, nil
}

// --- helpers ---

func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession("test", nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

func setupServer(t *testing.T, gw *fakeGateway, provider *fakeProvider) *server.MCPServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	optimizer, err := service.NewOptimizerService(gw, provider, nil, nil, nil, logger, service.Policy{}, nil, nil)
	require.NoError(t, err)

	s := server.NewMCPServer("test", "0.1.0", server.WithToolCapabilities(true))
	RegisterTools(s, optimizer, logger)
	return s
}

// --- tests ---

func TestValidateQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sql       string
		wantValid bool
		wantText  string
	}{
		{"valid select", ordersQuery, true, ""},
		{"select star warns", "SELECT * FROM orders", true, "SELECT *"},
		{"delete is rejected", "DELETE FROM orders", false, "DELETE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := setupServer(t, &fakeGateway{}, &fakeProvider{})

			result := callTool(t, s, "validate_query", map[string]any{"sql": tt.sql})
			assert.False(t, result.IsError)

			var v domain.ValidationResult
			require.NoError(t, json.Unmarshal([]byte(toolText(result)), &v))
			assert.Equal(t, tt.wantValid, v.IsValid)
			if tt.wantText != "" {
				assert.Contains(t, toolText(result), tt.wantText)
			}
		})
	}
}

func TestMissingSQLArgument(t *testing.T) {
	t.Parallel()

	for _, tool := range []string{"validate_query", "analyze_query", "optimize_query"} {
		t.Run(tool, func(t *testing.T) {
			t.Parallel()
			s := setupServer(t, &fakeGateway{}, &fakeProvider{})

			result := callTool(t, s, tool, map[string]any{})
			assert.True(t, result.IsError)
			assert.Contains(t, toolText(result), "sql is required")
		})
	}
}

func TestAnalyzeQuery_HappyPath(t *testing.T) {
	t.Parallel()
	s := setupServer(t, &fakeGateway{}, &fakeProvider{})

	result := callTool(t, s, "analyze_query", map[string]any{"sql": ordersQuery})
	require.False(t, result.IsError, toolText(result))

	var report service.QueryReport
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &report))
	assert.True(t, report.HasSeqScan)
	assert.InDelta(t, 100.0, report.ExecutionTime, 1e-9)
	assert.Contains(t, report.FormattedPlan, "Seq Scan on orders")
}

func TestAnalyzeQuery_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sql      string
		gwErr    error
		wantText string
	}{
		{"validation", "DROP TABLE orders", nil, "query validation failed"},
		{"timeout", ordersQuery, &domain.QueryTimeoutError{Timeout: 5 * time.Second}, "query timed out"},
		{"connection", ordersQuery, &domain.ConnectionError{Kind: domain.ConnAuthentication}, "authentication failed"},
		{"internal", ordersQuery, errors.New("pq: secret detail"), "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := setupServer(t, &fakeGateway{baselineErr: tt.gwErr}, &fakeProvider{})

			result := callTool(t, s, "analyze_query", map[string]any{"sql": tt.sql})
			assert.True(t, result.IsError)
			assert.Contains(t, toolText(result), tt.wantText)
			assert.NotContains(t, toolText(result), "secret detail")
		})
	}
}

func TestDescribeTable(t *testing.T) {
	t.Parallel()
	s := setupServer(t, &fakeGateway{}, &fakeProvider{})

	result := callTool(t, s, "describe_table", map[string]any{"table_name": "orders", "schema": "app"})
	require.False(t, result.IsError, toolText(result))

	var info domain.TableInfo
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &info))
	assert.Equal(t, "app", info.Schema)
	assert.Equal(t, "orders", info.Name)
	assert.Equal(t, int64(5000), info.RowCount)
}

func TestDescribeTable_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing table name", func(t *testing.T) {
		t.Parallel()
		s := setupServer(t, &fakeGateway{}, &fakeProvider{})
		result := callTool(t, s, "describe_table", map[string]any{})
		assert.True(t, result.IsError)
		assert.Contains(t, toolText(result), "table_name is required")
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		gw := &fakeGateway{describeErr: fmt.Errorf("table %q %w", "ghost", domain.ErrNotFound)}
		s := setupServer(t, gw, &fakeProvider{})
		result := callTool(t, s, "describe_table", map[string]any{"table_name": "ghost"})
		assert.True(t, result.IsError)
		assert.Equal(t, "table not found", toolText(result))
	})
}

func TestOptimizeQuery_Tested(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	s := setupServer(t, gw, &fakeProvider{})

	result := callTool(t, s, "optimize_query", map[string]any{"sql": ordersQuery})
	require.False(t, result.IsError, toolText(result))

	var run domain.OptimizationRun
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &run))
	assert.True(t, run.Success)
	assert.True(t, run.Tested)
	assert.Equal(t, domain.StateRanked, run.State)
	require.Len(t, run.Recommendations, 3)
	for i, r := range run.Recommendations {
		assert.Equal(t, i+1, r.Rank)
		assert.True(t, r.SeqScanEliminated)
		assert.InDelta(t, 90.0, r.ImprovementPercentage, 1e-9)
		assert.Equal(t, 1, r.OptimizationAttempts)
	}
	require.NotNil(t, run.Provider)
	assert.Equal(t, "fake", run.Provider.Provider)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Len(t, gw.destroyed, 3)
}

func TestOptimizeQuery_Untested(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	s := setupServer(t, gw, &fakeProvider{})

	result := callTool(t, s, "optimize_query", map[string]any{"sql": ordersQuery, "test_recommendations": false})
	require.False(t, result.IsError, toolText(result))

	var run domain.OptimizationRun
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &run))
	assert.True(t, run.Success)
	assert.False(t, run.Tested)
	require.Len(t, run.Recommendations, 3)
	for _, r := range run.Recommendations {
		assert.Equal(t, domain.StatusUntested, r.Status)
	}
	assert.Empty(t, gw.destroyed)
}

func TestOptimizeQuery_AbortedRunIsError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sql       string
		provider  *fakeProvider
		wantStage domain.Stage
		wantText  string
	}{
		{
			name:      "validation",
			sql:       "UPDATE orders SET status = 'x'",
			provider:  &fakeProvider{},
			wantStage: domain.StageValidation,
			wantText:  "query validation failed",
		},
		{
			name:      "providers",
			sql:       ordersQuery,
			provider:  &fakeProvider{err: &domain.AllProvidersFailedError{Last: errors.New("rate limited")}},
			wantStage: domain.StageRecommendations,
			wantText:  "all AI providers failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := setupServer(t, &fakeGateway{}, tt.provider)

			result := callTool(t, s, "optimize_query", map[string]any{"sql": tt.sql})
			assert.True(t, result.IsError)

			var run domain.OptimizationRun
			require.NoError(t, json.Unmarshal([]byte(toolText(result)), &run))
			assert.False(t, run.Success)
			assert.Equal(t, domain.StateAborted, run.State)
			assert.Equal(t, tt.wantStage, run.Stage)
			assert.Contains(t, run.Error, tt.wantText)
		})
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		want    string
		wantLog bool
	}{
		{"validation", &domain.ValidationError{Errors: []string{"DELETE not allowed"}}, "query validation failed: DELETE not allowed", false},
		{"timeout", &domain.QueryTimeoutError{Timeout: time.Second}, "query timed out: query exceeded timeout of 1000ms", false},
		{"deadline", fmt.Errorf("explain: %w", context.DeadlineExceeded), "query timed out", false},
		{"statement timeout", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, "query timed out", false},
		{"multi statement", domain.ErrMultiStatement, "multiple statements are not allowed", false},
		{"not found", fmt.Errorf("x: %w", domain.ErrNotFound), "table not found", false},
		{"no providers", domain.ErrNoProviders, domain.ErrNoProviders.Error(), false},
		{"unknown", errors.New("unexpected pg error: relation OID 12345"), "op failed: internal error (check server logs)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			assert.Equal(t, tt.want, sanitizeError(logger, tt.err, "op"))
			assert.Equal(t, tt.wantLog, strings.Contains(buf.String(), "op failed"))
		})
	}
}

func TestNewServer_RegistersTools(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	optimizer, err := service.NewOptimizerService(&fakeGateway{}, &fakeProvider{}, nil, nil, nil, logger, service.Policy{}, nil, nil)
	require.NoError(t, err)

	s := NewServer("test", optimizer, logger, nil, nil)
	result := callTool(t, s, "validate_query", map[string]any{"sql": ordersQuery})
	assert.False(t, result.IsError)
}
