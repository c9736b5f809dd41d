package datasource

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// Request describes one build_ir call.
type Request struct {
	SourceType models.SourceType
	Format     string
	Path       string
	Config     map[string]any
}

// SourceName is the label recorded on the built IR: config "source_name",
// then the file base name without extension, then the database name.
func (r Request) SourceName() string {
	if s := r.String("source_name"); s != "" {
		return s
	}
	if r.Path != "" {
		base := filepath.Base(r.Path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if db := r.String("database"); db != "" {
		return db
	}
	return string(r.SourceType) + "-" + r.Format
}

// String returns a config value rendered as a string, or "" when absent.
func (r Request) String(key string) string {
	v, ok := r.Config[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := jsonutil.ScalarString(v)
	return s
}

// RequireString returns a non-empty config string or an INVALID_INPUT error.
func (r Request) RequireString(key string) (string, error) {
	s := strings.TrimSpace(r.String(key))
	if s == "" {
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "config.%s is required for %s/%s", key, r.SourceType, r.Format)
	}
	return s, nil
}

// Int returns a config integer; JSON numbers and numeric strings are accepted.
func (r Request) Int(key string, fallback int) (int, error) {
	v, ok := r.Config[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, apperrors.Newf(apperrors.CodeInvalidInput, "config.%s must be an integer", key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("config.%s must be an integer", key), err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("config.%s must be an integer", key), err)
		}
		return i, nil
	}
	return 0, apperrors.Newf(apperrors.CodeInvalidInput, "config.%s must be an integer, got %T", key, v)
}

// Bool returns a config boolean; "true"/"false" strings are accepted.
func (r Request) Bool(key string, fallback bool) (bool, error) {
	v, ok := r.Config[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("config.%s must be a boolean", key), err)
		}
		return parsed, nil
	}
	return false, apperrors.Newf(apperrors.CodeInvalidInput, "config.%s must be a boolean, got %T", key, v)
}
