package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

// ReconcileToolDeps holds the dependencies of the pipeline tools.
type ReconcileToolDeps struct {
	Service services.ReconcileService
	Logger  *zap.Logger
}

// RegisterReconcileTools adds build_ir, compare, propose_resolution,
// apply_resolution, validate_ir and rollback to the MCP server.
func RegisterReconcileTools(s *server.MCPServer, deps *ReconcileToolDeps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	registerBuildIRTool(s, deps)
	registerCompareTool(s, deps)
	registerProposeTool(s, deps)
	registerApplyTool(s, deps)
	registerValidateTool(s, deps)
	registerRollbackTool(s, deps)
}

func registerBuildIRTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"build_ir",
		mcp.WithDescription("Builds a SchemaIR document from a file, database or inline source. "+
			"Returns the SchemaIR document."),
		mcp.WithString(
			"source_type",
			mcp.Required(),
			mcp.Description("Source kind: file, db or memory"),
			mcp.Enum("file", "db", "memory"),
		),
		mcp.WithString(
			"format",
			mcp.Description("file: json, csv, yaml, toml; db: postgres, mssql; memory: ir (default)"),
		),
		mcp.WithString(
			"path",
			mcp.Description("Path of the file to read (file sources only)"),
		),
		mcp.WithObject(
			"config",
			mcp.Description("Adapter settings, e.g. {host, port, database, user, password, schema, table} for db or {delimiter, has_header} for csv"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sourceType, err := req.RequireString("source_type")
		if err != nil {
			return NewErrorResult("INVALID_INPUT", err.Error()), nil
		}
		opts := documents.BuildIROptions{
			SourceType: sourceType,
			Format:     getOptionalString(req, "format"),
			Path:       getOptionalString(req, "path"),
			Config:     getOptionalObject(req, "config"),
		}
		return await(ctx, deps, "build_ir", deps.Service.BuildIRAsync(opts))
	})
}

func registerCompareTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"compare",
		mcp.WithDescription("Compares two SchemaIR documents and returns the added, removed and modified "+
			"entities and fields with a similarity score. Deterministic."),
		mcp.WithString("ir_a", mcp.Required(), mcp.Description("SchemaIR document A (JSON text)")),
		mcp.WithString("ir_b", mcp.Required(), mcp.Description("SchemaIR document B (JSON text)")),
		mcp.WithNumber("threshold", mcp.Description("Name similarity threshold in [0, 1] (default 0.8)")),
		mcp.WithString(
			"strategy",
			mcp.Description("structural (exact names) or semantic (fuzzy names)"),
			mcp.Enum("structural", "semantic"),
		),
		mcp.WithArray(
			"ignore_fields",
			mcp.Description("Field names excluded from comparison"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithObject("config", mcp.Description("Overrides, e.g. {\"case_insensitive\": true}")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		irA, err := documentArg(req, "ir_a")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		irB, err := documentArg(req, "ir_b")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		opts := documents.CompareOptions{
			Strategy:     getOptionalString(req, "strategy"),
			IgnoreFields: getOptionalStrings(req, "ignore_fields"),
			Config:       getOptionalObject(req, "config"),
		}
		if threshold, ok := getOptionalFloat(req, "threshold"); ok {
			opts.Threshold = &threshold
		}
		return await(ctx, deps, "compare", deps.Service.CompareAsync(irA, irB, opts))
	})
}

func registerProposeTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"propose_resolution",
		mcp.WithDescription("Turns a comparison document into an ordered resolution plan. "+
			"Identical inputs always yield the same plan and plan_id."),
		mcp.WithString("comparison", mcp.Required(), mcp.Description("Comparison document returned by compare")),
		mcp.WithString(
			"strategy",
			mcp.Description("conservative, balanced (default) or aggressive"),
			mcp.Enum("conservative", "balanced", "aggressive"),
		),
		mcp.WithString(
			"prefer_source",
			mcp.Description("Which side wins conflicts: a, b or merge (default)"),
			mcp.Enum("a", "b", "merge"),
		),
		mcp.WithObject("config", mcp.Description("Overrides, e.g. {\"auto_resolve_similarity\": 0.6}")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		comparison, err := documentArg(req, "comparison")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		opts := documents.ResolveOptions{
			Strategy:     getOptionalString(req, "strategy"),
			PreferSource: getOptionalString(req, "prefer_source"),
			Config:       getOptionalObject(req, "config"),
		}
		return await(ctx, deps, "propose_resolution", deps.Service.ProposeResolutionAsync(comparison, opts))
	})
}

func registerApplyTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"apply_resolution",
		mcp.WithDescription("Applies a resolution plan to a schema store. Use dry_run to preview. "+
			"A backup is taken first unless backup is false; pass its backup_ref to rollback to undo."),
		mcp.WithString("plan", mcp.Required(), mcp.Description("Plan document returned by propose_resolution")),
		mcp.WithBoolean("dry_run", mcp.Description("Project the plan without mutating the store")),
		mcp.WithBoolean("backup", mcp.Description("Capture touched entities before mutating (default true)")),
		mcp.WithString("store", mcp.Description("Target store label (default store when omitted)")),
		mcp.WithString("base_ir", mcp.Description("SchemaIR document to seed the store with before applying")),
		mcp.WithObject("config", mcp.Description("Overrides, e.g. {\"stop_on_failure\": true, \"timeout_ms\": 5000}")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		plan, err := documentArg(req, "plan")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		baseIR, err := documentArg(req, "base_ir")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		opts := documents.ApplyOptions{
			BaseIR: baseIR,
			Config: getOptionalObject(req, "config"),
		}
		if dryRun, ok := getOptionalBool(req, "dry_run"); ok {
			opts.DryRun = &dryRun
		}
		if backup, ok := getOptionalBool(req, "backup"); ok {
			opts.Backup = &backup
		}
		if store := getOptionalString(req, "store"); store != "" {
			if opts.Config == nil {
				opts.Config = map[string]any{}
			}
			opts.Config["store"] = store
		}
		return await(ctx, deps, "apply_resolution", deps.Service.ApplyResolutionAsync(plan, opts))
	})
}

func registerValidateTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"validate_ir",
		mcp.WithDescription("Checks a SchemaIR document for structural problems. "+
			"Returns {ok, errors, schema}; findings are not tool errors."),
		mcp.WithString("ir", mcp.Required(), mcp.Description("SchemaIR document (JSON text)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ir, err := documentArg(req, "ir")
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		return await(ctx, deps, "validate_ir", deps.Service.ValidateIRAsync(ir))
	})
}

func registerRollbackTool(s *server.MCPServer, deps *ReconcileToolDeps) {
	tool := mcp.NewTool(
		"rollback",
		mcp.WithDescription("Restores the entities captured by an apply_resolution backup"),
		mcp.WithString("backup_ref", mcp.Required(), mcp.Description("backup_ref from an apply result")),
		mcp.WithString("store", mcp.Description("Store the backup was taken from (default store when omitted)")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := req.RequireString("backup_ref")
		if err != nil {
			return NewErrorResult("INVALID_INPUT", err.Error()), nil
		}
		out, err := deps.Service.Rollback(ctx, getOptionalString(req, "store"), ref)
		if err != nil {
			return ErrorResultFrom(err), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}

// await waits for op and renders its document or error. A caller that goes
// away cancels the operation.
func await(ctx context.Context, deps *ReconcileToolDeps, name string, op *workqueue.Operation[[]byte]) (*mcp.CallToolResult, error) {
	out, err := op.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			op.Cancel()
		}
		deps.Logger.Debug("Tool call failed", zap.String("tool", name), zap.Error(err))
		return ErrorResultFrom(err), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
