package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// callState holds per-request timing and span data.
type callState struct {
	tool  string
	start time.Time
	span  trace.Span
}

// callTracker pairs before/after hook invocations by request id.
type callTracker struct {
	calls sync.Map // id -> *callState
}

func (c *callTracker) finish(id any) (*callState, time.Duration) {
	v, ok := c.calls.LoadAndDelete(id)
	if !ok {
		return nil, 0
	}
	state := v.(*callState)
	return state, time.Since(state.start)
}

// ToolCallHooks creates MCP hooks that log tool calls and record OTel spans
// and the per-tool duration histogram. tracer and inst may be nil.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	hooks := &server.Hooks{}
	tracker := &callTracker{}

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		state := &callState{tool: req.Params.Name, start: time.Now()}
		if tracer != nil {
			_, state.span = tracer.Start(ctx, "mcp.tool.call",
				trace.WithAttributes(attribute.String("mcp.tool", req.Params.Name)),
			)
		}
		tracker.calls.Store(id, state)
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		state, duration := tracker.finish(id)

		isErr := false
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			isErr = true
		}
		level := slog.LevelInfo
		if isErr {
			level = slog.LevelWarn
		}

		logger.LogAttrs(ctx, level, "tool call",
			slog.String("rpc.method", "tools/call"),
			slog.String("mcp.tool", req.Params.Name),
			slog.Duration("duration", duration),
			slog.Bool("error", isErr),
		)
		inst.RecordToolDuration(ctx, req.Params.Name, float64(duration.Milliseconds()))

		if state != nil && state.span != nil {
			if isErr {
				state.span.SetStatus(codes.Error, "tool returned error")
				state.span.RecordError(fmt.Errorf("tool %s returned error", req.Params.Name))
			}
			state.span.End()
		}
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		state, duration := tracker.finish(id)

		toolName := ""
		if req, ok := message.(*mcp.CallToolRequest); ok {
			toolName = req.Params.Name
		} else if state != nil {
			toolName = state.tool
		}
		if toolName != "" {
			logger.LogAttrs(ctx, slog.LevelError, "tool call",
				slog.String("rpc.method", string(method)),
				slog.String("mcp.tool", toolName),
				slog.Duration("duration", duration),
				slog.Bool("error", true),
				slog.String("error.message", err.Error()),
			)
		}

		if state != nil && state.span != nil {
			state.span.RecordError(err)
			state.span.SetStatus(codes.Error, err.Error())
			state.span.End()
		}
	})

	return hooks
}
