// Package mcp serves the reconcile pipeline as MCP tools over streamable HTTP.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "ekaya-reconcile"

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server exposing the pipeline tools backed by svc.
func NewServer(version string, svc services.ReconcileService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}
	tools.RegisterHealthTool(mcpServer, version, svc)
	tools.RegisterReconcileTools(mcpServer, &tools.ReconcileToolDeps{Service: svc, Logger: s.logger})
	return s
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Handler returns the streamable HTTP transport. The HTTP mux routes /mcp to
// it, so no endpoint path is configured here.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool is a convenience wrapper for registering an extra tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
