package tools

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return strings.TrimSpace(val)
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	val, ok := arguments(req)[key].(float64)
	return val, ok
}

// getOptionalBool extracts an optional boolean argument from the request.
func getOptionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	val, ok := arguments(req)[key].(bool)
	return val, ok
}

// getOptionalObject extracts an optional object argument from the request.
func getOptionalObject(req mcp.CallToolRequest, key string) map[string]any {
	val, _ := arguments(req)[key].(map[string]any)
	return val
}

// getOptionalStrings extracts an optional array of strings, skipping
// non-string items.
func getOptionalStrings(req mcp.CallToolRequest, key string) []string {
	raw, _ := arguments(req)[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// documentArg reads a document argument. Clients send documents either as
// JSON text or as an inline object. An absent argument yields nil, which the
// service reports as INVALID_INPUT.
func documentArg(req mcp.CallToolRequest, key string) ([]byte, error) {
	switch val := arguments(req)[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(val), nil
	case map[string]any, []any:
		out, err := json.Marshal(val)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeJSON, "encode "+key, err)
		}
		return out, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "%s must be a document or JSON text", key)
	}
}
