package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

func TestNewServer_ListsTools(t *testing.T) {
	s := NewServer("1.0.0", nil, zap.NewNop())

	result := s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	got := map[string]bool{}
	for _, tool := range response.Result.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{"health", "build_ir", "compare", "propose_resolution", "apply_resolution", "validate_ir", "rollback"} {
		if !got[name] {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestServer_RegisterTool(t *testing.T) {
	s := NewServer("1.0.0", nil, zap.NewNop())

	called := false
	s.RegisterTool(mcp.NewTool("echo", mcp.WithDescription("echo")), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("pong"), nil
	})
	if called {
		t.Error("handler should not be called during registration")
	}

	s.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/call","params":{"name":"echo"},"id":2}`))
	if !called {
		t.Error("expected registered handler to be called")
	}
}

func TestServer_Handler(t *testing.T) {
	s := NewServer("1.0.0", nil, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"jsonrpc":"2.0","method":"initialize","id":1,"params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}
