// Package mcp exposes the query gateway as Model Context Protocol tools.
package mcp

import (
	"log/slog"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

const serverName = "sqlgate"

// NewServer creates an MCPServer with the gateway tools and logging hooks.
// tracer and inst may be nil.
func NewServer(version string, query *service.QueryService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, query)

	return s
}
