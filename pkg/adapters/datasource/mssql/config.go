package mssql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod is "sql" or "service_principal".
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromRequest creates a Config from build_ir config keys and auto-detects the
// auth method: client_id selects service_principal, otherwise user/username
// selects sql.
func FromRequest(req datasource.Request) (*Config, error) {
	cfg := &Config{
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	var err error
	if cfg.Host, err = req.RequireString("host"); err != nil {
		return nil, err
	}
	if cfg.Database, err = req.RequireString("database"); err != nil {
		return nil, err
	}
	if cfg.Port, err = req.Int("port", DefaultPort()); err != nil {
		return nil, err
	}
	if cfg.Encrypt, err = req.Bool("encrypt", true); err != nil {
		return nil, err
	}
	if cfg.TrustServerCertificate, err = req.Bool("trust_server_certificate", false); err != nil {
		return nil, err
	}
	if cfg.ConnectionTimeout, err = req.Int("connection_timeout", DefaultConnectionTimeout()); err != nil {
		return nil, err
	}

	cfg.AuthMethod = req.String("auth_method")
	if cfg.AuthMethod == "" {
		if req.String("client_id") != "" {
			cfg.AuthMethod = AuthServicePrincipal
		} else {
			cfg.AuthMethod = AuthSQL
		}
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		cfg.Username = req.String("username")
		if cfg.Username == "" {
			cfg.Username = req.String("user")
		}
		cfg.Password = req.String("password")
	case AuthServicePrincipal:
		cfg.TenantID = req.String("tenant_id")
		cfg.ClientID = req.String("client_id")
		cfg.ClientSecret = req.String("client_secret")
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput,
			"invalid auth method: %s (must be %s or %s)", cfg.AuthMethod, AuthSQL, AuthServicePrincipal)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "invalid db/mssql config", err)
	}
	return cfg, nil
}

// Validate checks that the config has all required fields for its auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}
	return nil
}
