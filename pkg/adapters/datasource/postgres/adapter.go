package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/retry"
)

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so passwords containing @, /, #
// or ? survive. localhost resolves to host.docker.internal inside Docker.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		url.QueryEscape(sslMode),
	)
}

// connect opens a pool and pings it, retrying transient failures.
func connect(ctx context.Context, cfg *Config, retryCfg *retry.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := retry.DoIfRetryable(ctx, retryCfg, func() error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// TestConnection verifies the database is reachable and that the session is
// attached to the configured database rather than a server default.
func (d *SchemaDiscoverer) TestConnection(ctx context.Context) error {
	var currentDB string
	if err := d.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}
	if !strings.EqualFold(currentDB, d.database) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", d.database, currentDB)
	}
	return nil
}

var _ datasource.ConnectionTester = (*SchemaDiscoverer)(nil)
