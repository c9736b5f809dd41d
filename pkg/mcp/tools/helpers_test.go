package tools

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

func requestWith(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestOptionalArguments(t *testing.T) {
	req := requestWith(map[string]any{
		"strategy":      "  hybrid ",
		"threshold":     0.6,
		"dry_run":       true,
		"config":        map[string]any{"store": "web"},
		"ignore_fields": []any{"updated_at", 7, "created_at"},
	})

	assert.Equal(t, "hybrid", getOptionalString(req, "strategy"))
	assert.Empty(t, getOptionalString(req, "missing"))

	threshold, ok := getOptionalFloat(req, "threshold")
	assert.True(t, ok)
	assert.Equal(t, 0.6, threshold)
	_, ok = getOptionalFloat(req, "strategy")
	assert.False(t, ok)

	dryRun, ok := getOptionalBool(req, "dry_run")
	assert.True(t, ok)
	assert.True(t, dryRun)

	assert.Equal(t, map[string]any{"store": "web"}, getOptionalObject(req, "config"))
	assert.Equal(t, []string{"updated_at", "created_at"}, getOptionalStrings(req, "ignore_fields"))
}

func TestOptionalArguments_NoArguments(t *testing.T) {
	var req mcp.CallToolRequest
	assert.Empty(t, getOptionalString(req, "strategy"))
	assert.Nil(t, getOptionalObject(req, "config"))
	assert.Empty(t, getOptionalStrings(req, "ignore_fields"))
}

func TestDocumentArg(t *testing.T) {
	t.Run("json text", func(t *testing.T) {
		doc, err := documentArg(requestWith(map[string]any{"ir": `{"entities":[]}`}), "ir")
		require.NoError(t, err)
		assert.Equal(t, `{"entities":[]}`, string(doc))
	})

	t.Run("inline object", func(t *testing.T) {
		doc, err := documentArg(requestWith(map[string]any{"ir": map[string]any{"entities": []any{}}}), "ir")
		require.NoError(t, err)
		assert.JSONEq(t, `{"entities":[]}`, string(doc))
	})

	t.Run("absent", func(t *testing.T) {
		doc, err := documentArg(requestWith(nil), "ir")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := documentArg(requestWith(map[string]any{"ir": 42.0}), "ir")
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
	})
}
