package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/memory"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

const (
	ordersV1 = `{"source_name":"v1","source_type":"memory","ir_version":"1.0.0","entities":[
		{"entity_name":"orders","fields":[
			{"name":"id","declared_type":"integer","nullable":false,"is_primary_key":true}]}]}`
	ordersV2 = `{"source_name":"v2","source_type":"memory","ir_version":"1.0.0","entities":[
		{"entity_name":"orders","fields":[
			{"name":"id","declared_type":"integer","nullable":false,"is_primary_key":true},
			{"name":"total","declared_type":"decimal","nullable":true}]}]}`
)

func newToolServer(t *testing.T) (*server.MCPServer, services.ReconcileService) {
	t.Helper()
	logger := zap.NewNop()
	queue := workqueue.New(logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Shutdown(ctx)
	})
	svc := services.NewReconcileService(
		services.NewIRBuilderService(datasource.NewSourceFactory(logger), logger),
		services.NewComparatorService(logger),
		services.NewResolverService(logger),
		services.NewApplierService(repositories.NewMemoryApplyRunRepository(), logger),
		services.NewValidatorService(logger),
		repositories.NewMemoryStoreProvider(),
		queue,
		services.DefaultReconcileConfig(),
		logger,
	)
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(s, "1.0.0", svc)
	RegisterReconcileTools(s, &ReconcileToolDeps{Service: svc, Logger: logger})
	return s, svc
}

// callTool invokes a tool through JSON-RPC and returns its text content and
// isError flag.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), req))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Nil(t, resp.Error, "unexpected JSON-RPC error")
	require.NotEmpty(t, resp.Result.Content)
	return resp.Result.Content[0].Text, resp.Result.IsError
}

func TestReconcileTools_Pipeline(t *testing.T) {
	s, svc := newToolServer(t)

	cmp, isErr := callTool(t, s, "compare", map[string]any{"ir_a": ordersV1, "ir_b": ordersV2})
	require.False(t, isErr, cmp)

	plan, isErr := callTool(t, s, "propose_resolution", map[string]any{
		"comparison":    cmp,
		"strategy":      "aggressive",
		"prefer_source": "b",
	})
	require.False(t, isErr, plan)

	preview, isErr := callTool(t, s, "apply_resolution", map[string]any{
		"plan": plan, "dry_run": true, "store": "preview", "base_ir": ordersV1,
	})
	require.False(t, isErr, preview)
	var dry documents.ApplyResultDocument
	require.NoError(t, json.Unmarshal([]byte(preview), &dry))
	assert.True(t, dry.DryRun)
	assert.Equal(t, 1, dry.WouldApply)

	// Inline objects are accepted as well as JSON text.
	var planObj map[string]any
	require.NoError(t, json.Unmarshal([]byte(plan), &planObj))
	applied, isErr := callTool(t, s, "apply_resolution", map[string]any{
		"plan": planObj, "store": "tools", "base_ir": ordersV1,
	})
	require.False(t, isErr, applied)
	var result documents.ApplyResultDocument
	require.NoError(t, json.Unmarshal([]byte(applied), &result))
	assert.Equal(t, 1, result.Applied)

	snap, err := svc.StoreSnapshot(context.Background(), "tools")
	require.NoError(t, err)
	assert.Contains(t, string(snap), `"total"`)

	restored, isErr := callTool(t, s, "rollback", map[string]any{"store": "tools", "backup_ref": result.BackupRef})
	require.False(t, isErr, restored)
	snap, err = svc.StoreSnapshot(context.Background(), "tools")
	require.NoError(t, err)
	assert.NotContains(t, string(snap), `"total"`)
}

func TestReconcileTools_BuildAndValidate(t *testing.T) {
	s, _ := newToolServer(t)

	ir, isErr := callTool(t, s, "build_ir", map[string]any{
		"source_type": "memory",
		"config":      map[string]any{"ir": ordersV2},
	})
	require.False(t, isErr, ir)

	report, isErr := callTool(t, s, "validate_ir", map[string]any{"ir": ir})
	require.False(t, isErr, report)
	assert.Contains(t, report, `"ok":true`)
}

func TestReconcileTools_Errors(t *testing.T) {
	s, _ := newToolServer(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{"missing ir_b", "compare", map[string]any{"ir_a": ordersV1}, "INVALID_INPUT"},
		{"bad threshold", "compare", map[string]any{"ir_a": ordersV1, "ir_b": ordersV2, "threshold": 2.0}, "INVALID_INPUT"},
		{"malformed comparison", "propose_resolution", map[string]any{"comparison": "{"}, "JSON_ERROR"},
		{"unknown strategy", "propose_resolution", map[string]any{"comparison": "{}", "strategy": "yolo"}, "INVALID_INPUT"},
		{"unsupported source", "build_ir", map[string]any{"source_type": "ftp"}, "UNSUPPORTED_SOURCE"},
		{"missing source type", "build_ir", map[string]any{}, "INVALID_INPUT"},
		{"document of wrong type", "validate_ir", map[string]any{"ir": 42}, "INVALID_INPUT"},
		{"missing backup_ref", "rollback", map[string]any{}, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, s, tt.tool, tt.args)
			require.True(t, isErr, text)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(text), &resp))
			assert.True(t, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestHealthTool(t *testing.T) {
	s, _ := newToolServer(t)

	text, isErr := callTool(t, s, "health", nil)
	require.False(t, isErr)

	var result healthResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "1.0.0", result.Version)
	assert.Contains(t, result.Operations, "pending")
	assert.Contains(t, result.Operations, "running")
}
