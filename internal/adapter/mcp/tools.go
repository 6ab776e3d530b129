package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "querytuner"

// Tool descriptions
const (
	descValidateQuery = "Statically check a SQL query before analysis. " +
		"Returns is_valid, blocking errors (destructive statements, non-SELECT queries, multiple statements) " +
		"and performance warnings for SELECT *, leading-wildcard LIKE, OR conditions and large IN lists. " +
		"Nothing is sent to the database."

	descAnalyzeQuery = "Run EXPLAIN (ANALYZE, BUFFERS) on a SELECT query inside a read-only transaction that is always rolled back, " +
		"and return the JSON plan, execution and planning time, whether a sequential scan occurs, " +
		"detected issues (large sequential scans, top-level nested loops, disk sorts), suggestions, " +
		"node statistics and an indented text rendering of the plan. No AI provider is called."

	descDescribeTable = "Describe a table as the optimizer sees it: columns with types, nullability and comments, " +
		"planner statistics (null fraction, distinct estimate, selectivity class high/medium/low), " +
		"existing indexes with their definitions and the estimated row count. " +
		"Use selectivity to judge which columns are worth indexing."

	descTableNameParam = "Name of the table to describe"

	descOptimizeQuery = "Optimize a slow SELECT query. Measures a baseline with EXPLAIN ANALYZE, asks an AI provider for three " +
		"recommendations (indexes, rewrites, configuration or schema changes) and, unless disabled, tests each one " +
		"against a private copy of the referenced tables in a temporary sandbox schema. Each recommendation is refined " +
		"up to a bounded number of attempts until it removes sequential scans and cuts execution time by the configured threshold. " +
		"The sandbox is always dropped. Results are ranked: eliminating a sequential scan outranks raw speedup."

	descSQLParam = "SQL query to analyze (SELECT or WITH only)"

	descTestRecommendationsParam = "Test each recommendation in a sandbox schema. Defaults to true; " +
		"false returns the untested AI suggestions only."
)

func RegisterTools(s *server.MCPServer, optimizer *service.OptimizerService, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("validate_query",
			mcp.WithDescription(descValidateQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descSQLParam),
			),
		),
		validateQueryHandler(optimizer),
	)

	s.AddTool(
		mcp.NewTool("analyze_query",
			mcp.WithDescription(descAnalyzeQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descSQLParam),
			),
		),
		analyzeQueryHandler(optimizer, logger),
	)

	s.AddTool(
		mcp.NewTool("describe_table",
			mcp.WithDescription(descDescribeTable),
			mcp.WithString("table_name",
				mcp.Required(),
				mcp.Description(descTableNameParam),
			),
			mcp.WithString("schema",
				mcp.Description("Schema name (optional, resolves automatically if omitted)"),
			),
		),
		describeTableHandler(optimizer, logger),
	)

	s.AddTool(
		mcp.NewTool("optimize_query",
			mcp.WithDescription(descOptimizeQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descSQLParam),
			),
			mcp.WithBoolean("test_recommendations",
				mcp.Description(descTestRecommendationsParam),
			),
		),
		optimizeQueryHandler(optimizer, logger),
	)
}

func validateQueryHandler(optimizer *service.OptimizerService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}
		return jsonResult(optimizer.Validate(sql))
	}
}

func analyzeQueryHandler(optimizer *service.OptimizerService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "analyze_query")
		report, err := optimizer.Analyze(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "analyze query")), nil
		}
		return jsonResult(report)
	}
}

func describeTableHandler(optimizer *service.OptimizerService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tableName, ok := request.GetArguments()["table_name"].(string)
		if !ok || tableName == "" {
			return mcp.NewToolResultError("table_name is required"), nil
		}

		schema, _ := request.GetArguments()["schema"].(string)

		info, err := optimizer.DescribeTable(ctx, schema, tableName)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "describe table")), nil
		}
		return jsonResult(info)
	}
}

func optimizeQueryHandler(optimizer *service.OptimizerService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		test := true
		if v, ok := request.GetArguments()["test_recommendations"].(bool); ok {
			test = v
		}

		ctx = service.WithToolName(ctx, "optimize_query")
		run, err := optimizer.Optimize(ctx, sql, test)
		if err != nil {
			// The run still carries the stage and any partial baseline data.
			run.Error = sanitizeError(logger, err, "optimize query")
			result, _ := jsonResult(run)
			result.IsError = true
			return result, nil
		}
		return jsonResult(run)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sanitizeError maps domain errors to messages safe to show a client. Only
// errors whose text is written for users pass through; anything else is
// logged and replaced with a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	var (
		ve  *domain.ValidationError
		te  *domain.QueryTimeoutError
		ce  *domain.ConnectionError
		qe  *domain.QueryError
		all *domain.AllProvidersFailedError
		pg  *pgconn.PgError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, domain.ErrEmptyQuery), errors.Is(err, domain.ErrMultiStatement), errors.Is(err, domain.ErrUnsafeDDL):
		return err.Error()
	case errors.As(err, &te):
		return fmt.Sprintf("query timed out: %s", te.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return "query timed out"
	case errors.As(err, &pg) && pg.Code == "57014":
		return "query timed out"
	case errors.As(err, &ce):
		return ce.Error()
	case errors.Is(err, domain.ErrNotFound):
		return "table not found"
	case errors.As(err, &all):
		return all.Error()
	case errors.As(err, &qe):
		return qe.Error()
	case errors.Is(err, domain.ErrNoProviders):
		return err.Error()
	}

	logger.Error(op+" failed", slog.String("error", err.Error()))
	return fmt.Sprintf("%s failed: internal error (check server logs)", op)
}
