package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			SourceType:  "db",
			Format:      "mssql",
			Aliases:     []string{"sqlserver"},
			DisplayName: "Microsoft SQL Server",
			Description: "Discover tables from SQL Server 2019+ and Azure SQL Database",
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
				return nil, datasource.ConnectionError("failed to connect to SQL Server", err)
			}
			return datasource.NewDiscovererSource(d, opts, logger), nil
		},
	})
}
