package datasource

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/logging"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// DiscovererSource adapts a SchemaDiscoverer into a Source.
type DiscovererSource struct {
	discoverer SchemaDiscoverer
	opts       DiscoveryOptions
	logger     *zap.Logger
}

// NewDiscovererSource wraps d. The source owns d and closes it.
func NewDiscovererSource(d SchemaDiscoverer, opts DiscoveryOptions, logger *zap.Logger) *DiscovererSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscovererSource{discoverer: d, opts: opts, logger: logger}
}

// BuildIR discovers the database schema. Driver failures surface as
// DB_CONNECTION_FAILED with credentials removed from the message.
func (s *DiscovererSource) BuildIR(ctx context.Context) (*models.SchemaIR, error) {
	ir, err := BuildFromDiscoverer(ctx, s.discoverer, s.opts, s.logger)
	if err != nil {
		return nil, ConnectionError("schema discovery failed", err)
	}
	return ir, nil
}

func (s *DiscovererSource) Close() error {
	return s.discoverer.Close()
}

// ConnectionError attaches DB_CONNECTION_FAILED to a driver error. Coded
// errors and context errors pass through unchanged.
func ConnectionError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var coded *apperrors.Error
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.New(apperrors.CodeDBConnectionFailed, msg+": "+logging.SanitizeError(err))
}

var _ Source = (*DiscovererSource)(nil)
