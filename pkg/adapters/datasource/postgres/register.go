package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			SourceType:  "db",
			Format:      "postgres",
			Aliases:     []string{"postgresql"},
			DisplayName: "PostgreSQL",
			Description: "Discover tables from PostgreSQL 12+ via information_schema",
		},
		Factory: func(ctx context.Context, req datasource.Request, logger *zap.Logger) (datasource.Source, error) {
			cfg, err := FromRequest(req)
			if err != nil {
				return nil, err
			}
			opts, err := datasource.DiscoveryOptionsFromRequest(req)
			if err != nil {
				return nil, err
			}
			d, err := NewSchemaDiscoverer(ctx, cfg, logger)
			if err != nil {
				return nil, datasource.ConnectionError("failed to connect to PostgreSQL", err)
			}
			return datasource.NewDiscovererSource(d, opts, logger), nil
		},
	})
}
