package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/file"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/memory"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
)

const usersV1 = `{
  "source_name": "crm",
  "source_type": "file",
  "ir_version": "1.0.0",
  "entities": [
    {"entity_name": "users", "fields": [
      {"name": "id", "declared_type": "integer", "is_primary_key": true},
      {"name": "email", "declared_type": "string"}
    ]}
  ]
}`

const usersV2 = `{
  "source_name": "billing",
  "source_type": "file",
  "ir_version": "1.0.0",
  "entities": [
    {"entity_name": "users", "fields": [
      {"name": "id", "declared_type": "integer", "is_primary_key": true},
      {"name": "email", "declared_type": "string"},
      {"name": "plan", "declared_type": "string", "nullable": true}
    ]},
    {"entity_name": "invoices", "fields": [
      {"name": "id", "declared_type": "integer", "is_primary_key": true}
    ]}
  ]
}`

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// runCLI executes the command tree isolated from any local .env or
// config.yaml.
func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	dir := t.TempDir()
	base := []string{"--env-file", "", "--config", filepath.Join(dir, "missing.yaml"), "--log-level", "error"}

	root := NewRootCommand("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(base, args...))
	code := run(context.Background(), root)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestBuild_CSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "customers.csv", "id,name,joined\n1,alice,2024-01-02\n2,,2024-03-04\n")

	res := runCLI(t, "build", "--format", "csv", "--path", path)
	require.Equal(t, 0, res.code, res.stderr)

	ir := decodeOut[documents.SchemaIRDocument](t, res.stdout)
	require.Len(t, ir.Entities, 1)
	assert.Equal(t, "customers", ir.Entities[0].EntityName)
	assert.Len(t, ir.Entities[0].Fields, 3)
}

func TestBuild_MissingFile(t *testing.T) {
	res := runCLI(t, "build", "--format", "json", "--path", filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, 1, res.code)
	assert.Empty(t, res.stdout)
	doc := decodeOut[map[string]any](t, res.stderr)
	assert.Equal(t, "IO_ERROR", doc["code"])
}

func TestBuild_OptionsFile(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "crm.json", usersV1)
	opts := writeFile(t, dir, "build.json", `{"source_type":"file","format":"json","path":"`+filepath.ToSlash(schema)+`"}`)

	res := runCLI(t, "build", "--options", opts)
	require.Equal(t, 0, res.code, res.stderr)
	ir := decodeOut[documents.SchemaIRDocument](t, res.stdout)
	require.Len(t, ir.Entities, 1)
	assert.Equal(t, "users", ir.Entities[0].EntityName)
}

func TestPipeline_CompareProposeApply(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", usersV1)
	b := writeFile(t, dir, "b.json", usersV2)

	res := runCLI(t, "compare", a, b)
	require.Equal(t, 0, res.code, res.stderr)
	cmp := decodeOut[documents.ComparisonDocument](t, res.stdout)
	assert.Equal(t, "crm", cmp.SourceA)
	assert.Equal(t, "billing", cmp.SourceB)
	assert.NotEmpty(t, cmp.Changes.Added)
	cmpPath := writeFile(t, dir, "cmp.json", res.stdout)

	res = runCLI(t, "propose", cmpPath, "--strategy", "aggressive", "--prefer-source", "b")
	require.Equal(t, 0, res.code, res.stderr)
	plan := decodeOut[documents.PlanDocument](t, res.stdout)
	require.NotEmpty(t, plan.Actions)
	planPath := writeFile(t, dir, "plan.json", res.stdout)

	merged := filepath.Join(dir, "merged.json")
	res = runCLI(t, "apply", planPath, "--base", a, "--result-out", merged)
	require.Equal(t, 0, res.code, res.stderr)
	result := decodeOut[documents.ApplyResultDocument](t, res.stdout)
	assert.Equal(t, "committed", result.State)
	assert.False(t, result.DryRun)
	assert.Zero(t, result.Counts.Failed)

	data, err := os.ReadFile(merged)
	require.NoError(t, err)
	ir, err := documents.ParseSchemaIR(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices", "users"}, ir.EntityNames())
}

func TestApply_DryRunTable(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", usersV1)
	b := writeFile(t, dir, "b.json", usersV2)

	res := runCLI(t, "compare", a, b)
	require.Equal(t, 0, res.code, res.stderr)
	cmpPath := writeFile(t, dir, "cmp.json", res.stdout)
	res = runCLI(t, "propose", cmpPath, "--strategy", "aggressive", "--prefer-source", "b")
	require.Equal(t, 0, res.code, res.stderr)
	planPath := writeFile(t, dir, "plan.json", res.stdout)

	res = runCLI(t, "--no-color", "-o", "table", "apply", planPath, "--base", a, "--dry-run")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "dry_run: would apply")
}

func TestCompare_FromSources(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", usersV1)
	b := writeFile(t, dir, "b.json", usersV2)
	optsA := writeFile(t, dir, "a.build.json", `{"source_type":"file","format":"json","path":"`+filepath.ToSlash(a)+`"}`)
	optsB := writeFile(t, dir, "b.build.json", `{"source_type":"file","format":"json","path":"`+filepath.ToSlash(b)+`"}`)

	res := runCLI(t, "compare", "--from-sources", optsA, optsB, "--threshold", "0.5")
	require.Equal(t, 0, res.code, res.stderr)
	cmp := decodeOut[documents.ComparisonDocument](t, res.stdout)
	assert.Equal(t, 0.5, cmp.Config.Threshold)
}

func TestValidate_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", usersV1)
	bad := writeFile(t, dir, "bad.json", `{"ir_version":"1.0.0","entities":[{"entity_name":"a"},{"entity_name":"a"}]}`)

	res := runCLI(t, "validate", good)
	assert.Equal(t, 0, res.code, res.stderr)
	assert.True(t, decodeOut[documents.ValidationDocument](t, res.stdout).OK)

	res = runCLI(t, "validate", bad)
	assert.Equal(t, 2, res.code)
	assert.Empty(t, res.stderr)
	report := decodeOut[documents.ValidationDocument](t, res.stdout)
	assert.False(t, report.OK)
	assert.NotEmpty(t, report.Errors)
}

func TestRoot_InvalidUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad output format", []string{"-o", "xml", "sources"}},
		{"unknown flag", []string{"sources", "--bogus"}},
		{"missing argument", []string{"propose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, tt.args...)
			assert.Equal(t, 1, res.code)
			doc := decodeOut[map[string]any](t, res.stderr)
			assert.Equal(t, "INVALID_INPUT", doc["code"])
		})
	}
}

func TestSources_YAML(t *testing.T) {
	res := runCLI(t, "-o", "yaml", "sources")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "source_type: file")
	assert.Contains(t, res.stdout, "source_type: memory")
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "version")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "ekaya-reconcile test")
}
