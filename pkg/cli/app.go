package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/config"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/database"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/logging"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
)

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    services.ReconcileService
	queue  *workqueue.Queue
	db     *database.DB
}

// newApp loads configuration and wires the reconcile service against
// the configured store driver.
func newApp(ctx context.Context, opts *rootOptions, version string) (*app, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOError, "failed to load env file", err)
	}
	cfg, err := config.Load(opts.configPath, version)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), err)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), err)
	}

	rc, err := reconcileConfig(cfg)
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, logger: logger}

	var (
		stores repositories.StoreProvider
		runs   repositories.ApplyRunRepository
	)
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := openStoreDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.db = db
		stores = repositories.NewPostgresStoreProvider(db)
		runs = repositories.NewApplyRunRepository(db)
	default:
		stores = repositories.NewMemoryStoreProvider()
		runs = repositories.NewMemoryApplyRunRepository()
	}

	rt.queue = workqueue.New(logger, workqueue.WithStrategy(workqueue.NewPerStoreStrategy(cfg.Engine.MaxWorkers)))
	rt.svc = services.NewReconcileService(
		services.NewIRBuilderService(datasource.NewSourceFactory(logger), logger),
		services.NewComparatorService(logger),
		services.NewResolverService(logger),
		services.NewApplierService(runs, logger),
		services.NewValidatorService(logger),
		stores,
		rt.queue,
		rc,
		logger,
	)
	return rt, nil
}

func openStoreDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeDBConnectionFailed,
			"failed to connect to store database: "+logging.SanitizeError(err))
	}
	if err := database.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, apperrors.New(apperrors.CodeDBConnectionFailed,
			"failed to migrate store database: "+logging.SanitizeError(err))
	}
	logger.Info("Connected to store database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))
	return db, nil
}

// reconcileConfig turns the engine section into service defaults.
func reconcileConfig(cfg *config.Config) (services.ReconcileConfig, error) {
	rc := services.DefaultReconcileConfig()

	compareStrategy, err := models.ParseCompareStrategy(cfg.Engine.CompareStrategy)
	if err != nil {
		return rc, err
	}
	resolveStrategy, err := models.ParseResolveStrategy(cfg.Engine.ResolveStrategy)
	if err != nil {
		return rc, err
	}
	prefer, err := models.ParsePreferSource(cfg.Engine.PreferSource)
	if err != nil {
		return rc, err
	}

	rc.Compare.Threshold = cfg.Engine.CompareThreshold
	rc.Compare.Strategy = compareStrategy
	rc.Resolve.Strategy = resolveStrategy
	rc.Resolve.PreferSource = prefer
	rc.Apply.Backup = cfg.Engine.ApplyBackup
	rc.Apply.Timeout = cfg.Engine.ApplyTimeout
	if cfg.Store.Label != "" {
		rc.DefaultStore = cfg.Store.Label
	}
	return rc, nil
}

// close drains the queue and releases the store pool.
func (rt *app) close(ctx context.Context) error {
	var err error
	if rt.queue != nil {
		if qErr := rt.queue.Shutdown(ctx); qErr != nil {
			err = fmt.Errorf("shutdown work queue: %w", qErr)
		}
	}
	if rt.db != nil {
		rt.db.Close()
	}
	_ = rt.logger.Sync()
	return err
}
