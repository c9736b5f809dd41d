package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", result.Content[0])

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("INVALID_INPUT", "threshold out of range", map[string]any{"threshold": 1.5})
	resp := decodeErrorResult(t, result)
	assert.True(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Code)
	assert.Equal(t, "threshold out of range", resp.Message)
	assert.Equal(t, map[string]any{"threshold": 1.5}, resp.Details)
}

func TestErrorResultFrom(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"coded", apperrors.New(apperrors.CodeUnsupportedFormat, "no adapter for file/xml"), "UNSUPPORTED_FORMAT"},
		{"wrapped coded", errors.Join(errors.New("build"), apperrors.New(apperrors.CodeIOError, "missing")), "IO_ERROR"},
		{"cancelled", context.Canceled, "CANCELLED"},
		{"deadline", context.DeadlineExceeded, "TIMEOUT"},
		{"plain", errors.New("boom"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeErrorResult(t, ErrorResultFrom(tt.err))
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}
