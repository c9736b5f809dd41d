package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// IRBuilderService turns build_ir requests into SchemaIR values through the
// registered ingestion adapters.
type IRBuilderService interface {
	Build(ctx context.Context, opts documents.BuildIROptions) (*models.SchemaIR, error)

	// Sources lists the registered adapters.
	Sources() []datasource.AdapterInfo
}

type irBuilderService struct {
	factory datasource.SourceFactory
	logger  *zap.Logger
}

// NewIRBuilderService creates a new IRBuilderService.
func NewIRBuilderService(factory datasource.SourceFactory, logger *zap.Logger) IRBuilderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &irBuilderService{
		factory: factory,
		logger:  logger.Named("ir_builder"),
	}
}

var _ IRBuilderService = (*irBuilderService)(nil)

func (s *irBuilderService) Build(ctx context.Context, opts documents.BuildIROptions) (*models.SchemaIR, error) {
	sourceType, err := models.ParseSourceType(opts.SourceType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	src, err := s.factory.NewSource(ctx, datasource.Request{
		SourceType: sourceType,
		Format:     opts.Format,
		Path:       opts.Path,
		Config:     opts.Config,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("Failed to close source", zap.Error(err))
		}
	}()

	ir, err := src.BuildIR(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Built schema IR",
		zap.String("source_type", string(sourceType)),
		zap.String("format", opts.Format),
		zap.String("source_name", ir.SourceName),
		zap.Int("entities", len(ir.Entities)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ir, nil
}

func (s *irBuilderService) Sources() []datasource.AdapterInfo {
	return s.factory.ListTypes()
}
