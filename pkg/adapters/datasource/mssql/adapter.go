package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/retry"
)

// connectionString builds the sqlserver URL and picks the driver for the
// configured auth method.
func connectionString(cfg *Config) (driver, dsn string) {
	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	host := config.ResolveHostForDocker(cfg.Host)

	if cfg.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID+"@"+cfg.TenantID)
		query.Add("password", cfg.ClientSecret)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", host, cfg.Port, query.Encode())
	}

	return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		query.Encode(),
	)
}

// open opens and pings a connection pool, retrying transient failures.
func open(ctx context.Context, cfg *Config, retryCfg *retry.Config) (*sql.DB, error) {
	driver, dsn := connectionString(cfg)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	if err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql server: %w", err)
	}
	return db, nil
}

// TestConnection verifies the session is attached to the configured database.
func (s *SchemaDiscoverer) TestConnection(ctx context.Context) error {
	var currentDB string
	if err := s.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if !strings.EqualFold(currentDB, s.config.Database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", s.config.Database, currentDB)
	}
	return nil
}
