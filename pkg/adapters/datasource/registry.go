package datasource

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	SourceType  models.SourceType `json:"source_type"` // "file", "db", "memory"
	Format      string            `json:"format"`      // "json", "postgres", ...
	Aliases     []string          `json:"aliases,omitempty"`
	DisplayName string            `json:"display_name"`
	Description string            `json:"description"`
}

// SourceFactoryFunc opens a Source for a request.
type SourceFactoryFunc func(ctx context.Context, req Request, logger *zap.Logger) (Source, error)

// AdapterRegistration contains info + factory for creating sources.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory SourceFactoryFunc
}

// Formats used when a request leaves format empty.
var defaultFormats = map[models.SourceType]string{
	models.SourceTypeMemory: "ir",
}

// Formats that are recognized names but have no adapter compiled in.
var knownUnregistered = map[models.SourceType][]string{
	models.SourceTypeDB: {"mysql", "sqlite"},
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

func registryKey(sourceType models.SourceType, format string) string {
	return string(sourceType) + "/" + strings.ToLower(strings.TrimSpace(format))
}

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey(reg.Info.SourceType, reg.Info.Format)] = reg
	for _, alias := range reg.Info.Aliases {
		registry[registryKey(reg.Info.SourceType, alias)] = reg
	}
}

// RegisteredAdapters returns info for all registered adapters, sorted by
// source type then format.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool, len(registry))
	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		key := registryKey(reg.Info.SourceType, reg.Info.Format)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SourceType != result[j].SourceType {
			return result[i].SourceType < result[j].SourceType
		}
		return result[i].Format < result[j].Format
	})
	return result
}

// Lookup returns the registration for a source type and format. A format with
// no adapter yields UNSUPPORTED_FORMAT.
func Lookup(sourceType models.SourceType, format string) (AdapterRegistration, error) {
	if strings.TrimSpace(format) == "" {
		format = defaultFormats[sourceType]
	}
	if format == "" {
		return AdapterRegistration{}, apperrors.Newf(apperrors.CodeInvalidInput, "format is required for source type %q", sourceType)
	}

	registryMu.RLock()
	reg, ok := registry[registryKey(sourceType, format)]
	registryMu.RUnlock()
	if ok {
		return reg, nil
	}

	for _, name := range knownUnregistered[sourceType] {
		if strings.EqualFold(name, format) {
			return AdapterRegistration{}, apperrors.Newf(apperrors.CodeUnsupportedFormat,
				"format %q is recognized for source type %q but no adapter is available", format, sourceType)
		}
	}
	return AdapterRegistration{}, apperrors.Newf(apperrors.CodeUnsupportedFormat,
		"unsupported format %q for source type %q", format, sourceType)
}

// IsRegistered checks if an adapter is available.
func IsRegistered(sourceType models.SourceType, format string) bool {
	_, err := Lookup(sourceType, format)
	return err == nil
}
