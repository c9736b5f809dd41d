package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/auth"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/handlers"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/mcp"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/middleware"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
)

const readHeaderTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions, version string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP (/api/reconcile) and MCP (/mcp)",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := newApp(ctx, opts, version)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = rt.close(shutdownCtx)
			}()

			var storeCheck handlers.StoreCheck
			if rt.db != nil {
				storeCheck = rt.db.Ping
			}
			handler, cleanup, err := newRouter(rt.cfg, rt.svc, storeCheck, version, rt.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = net.JoinHostPort(rt.cfg.BindAddr, rt.cfg.Port)
			}
			return listenAndServe(ctx, rt.cfg, &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: readHeaderTimeout,
			}, rt.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default bind_addr:port from config)")
	return cmd
}

// newRouter assembles the HTTP surface. cleanup releases the JWKS refresher.
func newRouter(cfg *config.Config, svc services.ReconcileService, storeCheck handlers.StoreCheck, version string, logger *zap.Logger) (http.Handler, func(), error) {
	mux := http.NewServeMux()
	cleanup := func() {}

	handlers.NewHealthHandler(cfg, storeCheck, logger).RegisterRoutes(mux)

	wrap := func(next http.Handler) http.Handler { return next }
	if cfg.Auth.Enabled {
		jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
			EnableVerification: cfg.Auth.Verify,
			JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
			Audience:           cfg.Auth.Audience,
		})
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = jwksClient.Close
		authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
		wrap = func(next http.Handler) http.Handler {
			return authMiddleware.RequireAuth(middleware.WithSubject(next))
		}
		if !cfg.Auth.Verify {
			logger.Warn("Token signature verification is disabled")
		}
	}

	handlers.NewReconcileHandler(svc, logger).RegisterRoutes(mux, wrap)

	mcpServer := mcp.NewServer(version, svc, logger)
	mux.Handle("/mcp", wrap(middleware.MCPRequestLogger(logger)(mcpServer.Handler())))

	return middleware.RequestLogger(logger)(mux), cleanup, nil
}

// listenAndServe runs srv until ctx is cancelled, then drains connections.
func listenAndServe(ctx context.Context, cfg *config.Config, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			logger.Info("Starting ekaya-reconcile (HTTPS)",
				zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			logger.Info("Starting ekaya-reconcile",
				zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
