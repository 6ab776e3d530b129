package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/guillermoBallester/querytuner/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the optimizer tools and logging hooks.
// tracer and inst may be nil.
func NewServer(version string, optimizer *service.OptimizerService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
		server.WithToolCapabilities(true),
	)

	RegisterTools(s, optimizer, logger)

	return s
}
