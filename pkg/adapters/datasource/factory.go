package datasource

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// SourceFactory creates sources from the registry.
type SourceFactory interface {
	// NewSource opens a source for the given request.
	NewSource(ctx context.Context, req Request) (Source, error)

	// ListTypes returns info for all registered adapters.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewSourceFactory returns a factory that uses the global registry.
func NewSourceFactory(logger *zap.Logger) SourceFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{logger: logger.Named("datasource")}
}

func (f *registryFactory) NewSource(ctx context.Context, req Request) (Source, error) {
	if _, err := models.ParseSourceType(string(req.SourceType)); err != nil {
		return nil, err
	}
	reg, err := Lookup(req.SourceType, req.Format)
	if err != nil {
		return nil, err
	}
	return reg.Factory(ctx, req, f.logger.With(
		zap.String("source_type", string(req.SourceType)),
		zap.String("format", reg.Info.Format)))
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements SourceFactory at compile time.
var _ SourceFactory = (*registryFactory)(nil)
