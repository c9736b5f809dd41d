package postgres

import (
	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "prefer"
}

// FromRequest creates a Config from build_ir config keys: host, port,
// database, user (or username), password, ssl_mode.
func FromRequest(req datasource.Request) (*Config, error) {
	cfg := &Config{SSLMode: DefaultSSLMode()}

	var err error
	if cfg.Host, err = req.RequireString("host"); err != nil {
		return nil, err
	}
	if cfg.Database, err = req.RequireString("database"); err != nil {
		return nil, err
	}
	cfg.User = req.String("user")
	if cfg.User == "" {
		cfg.User = req.String("username")
	}
	if cfg.User == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "config.user is required for db/postgres")
	}
	cfg.Password = req.String("password")
	if cfg.Port, err = req.Int("port", DefaultPort()); err != nil {
		return nil, err
	}
	if mode := req.String("ssl_mode"); mode != "" {
		cfg.SSLMode = mode
	}
	return cfg, nil
}
