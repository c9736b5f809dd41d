package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

type healthResult struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Operations map[string]int `json:"operations"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and operation counts by status.
func RegisterHealthTool(s *server.MCPServer, version string, svc services.ReconcileService) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts := map[string]int{}
		if svc != nil {
			for _, op := range svc.Operations() {
				counts[string(op.Status)]++
			}
		}
		for _, status := range []workqueue.TaskStatus{workqueue.TaskStatusPending, workqueue.TaskStatusRunning} {
			if _, ok := counts[string(status)]; !ok {
				counts[string(status)] = 0
			}
		}
		result, err := json.Marshal(healthResult{Status: "ok", Version: version, Operations: counts})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
