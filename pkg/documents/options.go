package documents

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// BuildIROptions are the arguments of build_ir.
type BuildIROptions struct {
	SourceType string         `json:"source_type"`
	Format     string         `json:"format"`
	Path       string         `json:"path,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// CompareOptions are the options of compare. Config keys override the typed options.
type CompareOptions struct {
	Threshold    *float64       `json:"threshold,omitempty"`
	Strategy     string         `json:"strategy,omitempty"`
	IgnoreFields []string       `json:"ignore_fields,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// ResolveOptions are the options of propose_resolution.
type ResolveOptions struct {
	Strategy     string         `json:"strategy,omitempty"`
	PreferSource string         `json:"prefer_source,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// ApplyOptions are the options of apply_resolution.
type ApplyOptions struct {
	DryRun *bool `json:"dry_run,omitempty"`
	Backup *bool `json:"backup,omitempty"`
	// BaseIR, when set, seeds the target store with this SchemaIR document
	// before the plan runs. A dry run projects onto a copy of BaseIR instead
	// and leaves the store alone.
	BaseIR json.RawMessage `json:"base_ir,omitempty"`
	Config map[string]any  `json:"config,omitempty"`
}

// CompareConfig resolves the options over defaults.
func (o CompareOptions) CompareConfig(defaults models.CompareConfig) (models.CompareConfig, error) {
	cfg := defaults
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.Strategy != "" {
		s, err := models.ParseCompareStrategy(o.Strategy)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = s
	}
	if len(o.IgnoreFields) > 0 {
		cfg.IgnoreFields = append([]string(nil), o.IgnoreFields...)
	}
	if v, ok := o.Config["threshold"]; ok {
		f, err := toFloat("threshold", v)
		if err != nil {
			return cfg, err
		}
		cfg.Threshold = f
	}
	if v, ok := o.Config["case_insensitive"]; ok {
		b, err := toBool("case_insensitive", v)
		if err != nil {
			return cfg, err
		}
		cfg.CaseInsensitive = b
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return cfg, apperrors.Newf(apperrors.CodeInvalidInput, "threshold %v must be within [0, 1]", cfg.Threshold)
	}
	return cfg, nil
}

// ResolveConfig resolves the options over defaults.
func (o ResolveOptions) ResolveConfig(defaults models.ResolveConfig) (models.ResolveConfig, error) {
	cfg := defaults
	if o.Strategy != "" {
		s, err := models.ParseResolveStrategy(o.Strategy)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = s
	}
	if o.PreferSource != "" {
		p, err := models.ParsePreferSource(o.PreferSource)
		if err != nil {
			return cfg, err
		}
		cfg.PreferSource = p
	}
	if v, ok := o.Config["auto_resolve_similarity"]; ok {
		f, err := toFloat("auto_resolve_similarity", v)
		if err != nil {
			return cfg, err
		}
		if f < 0 || f > 1 || math.IsNaN(f) {
			return cfg, apperrors.Newf(apperrors.CodeInvalidInput, "auto_resolve_similarity %v must be within [0, 1]", f)
		}
		cfg.AutoResolveSimilarity = &f
	}
	return cfg, nil
}

// maxTimeoutMillis is the first timeout_ms that no longer fits a time.Duration.
const maxTimeoutMillis = float64(math.MaxInt64) / float64(time.Millisecond)

// ApplyConfig resolves the options over defaults. Recognized config keys:
// stop_on_failure, timeout_ms.
func (o ApplyOptions) ApplyConfig(defaults models.ApplyConfig) (models.ApplyConfig, error) {
	cfg := defaults
	if o.DryRun != nil {
		cfg.DryRun = *o.DryRun
	}
	if o.Backup != nil {
		cfg.Backup = *o.Backup
	}
	if v, ok := o.Config["stop_on_failure"]; ok {
		b, err := toBool("stop_on_failure", v)
		if err != nil {
			return cfg, err
		}
		cfg.StopOnFailure = b
	}
	if v, ok := o.Config["timeout_ms"]; ok {
		f, err := toFloat("timeout_ms", v)
		if err != nil {
			return cfg, err
		}
		if f < 0 || math.IsNaN(f) {
			return cfg, apperrors.New(apperrors.CodeInvalidInput, "timeout_ms must not be negative")
		}
		if f >= maxTimeoutMillis {
			return cfg, apperrors.Newf(apperrors.CodeInvalidInput, "timeout_ms %v is out of range", f)
		}
		cfg.Timeout = time.Duration(f * float64(time.Millisecond))
	}
	return cfg, nil
}

// StoreKey returns the config "store" key, or fallback.
func (o ApplyOptions) StoreKey(fallback string) string {
	if s, ok := o.Config["store"].(string); ok && s != "" {
		return s
	}
	return fallback
}

func toFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, apperrors.Newf(apperrors.CodeInvalidInput, "config %s must be a number, got %s", key, typeName(v))
}

func toBool(key string, v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, apperrors.Newf(apperrors.CodeInvalidInput, "config %s must be a boolean, got %s", key, typeName(v))
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
