package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/repositories"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/sql"
)

// DefaultStoreKey names the store apply_resolution targets when neither the
// options nor the service config pick one.
const DefaultStoreKey = "default"

// ReconcileService exposes the five pipeline operations with documents in
// and documents out. Every failure is a coded error; render it with
// documents.MarshalError.
type ReconcileService interface {
	BuildIR(ctx context.Context, opts documents.BuildIROptions) ([]byte, error)
	Compare(ctx context.Context, irA, irB []byte, opts documents.CompareOptions) ([]byte, error)
	ProposeResolution(ctx context.Context, comparison []byte, opts documents.ResolveOptions) ([]byte, error)
	ApplyResolution(ctx context.Context, plan []byte, opts documents.ApplyOptions) ([]byte, error)
	ValidateIR(ctx context.Context, ir []byte) ([]byte, error)

	// Rollback restores the entities captured by backupRef in the named store.
	Rollback(ctx context.Context, storeKey, backupRef string) ([]byte, error)

	// SeedStore replaces the schema held by a store.
	SeedStore(ctx context.Context, storeKey string, ir []byte) error
	// StoreSnapshot returns a store's current schema as a SchemaIR document.
	StoreSnapshot(ctx context.Context, storeKey string) ([]byte, error)

	// Async variants return immediately. Applies sharing a store run one at
	// a time in submission order; everything else runs in parallel.
	BuildIRAsync(opts documents.BuildIROptions) *workqueue.Operation[[]byte]
	CompareAsync(irA, irB []byte, opts documents.CompareOptions) *workqueue.Operation[[]byte]
	ProposeResolutionAsync(comparison []byte, opts documents.ResolveOptions) *workqueue.Operation[[]byte]
	ApplyResolutionAsync(plan []byte, opts documents.ApplyOptions) *workqueue.Operation[[]byte]
	ValidateIRAsync(ir []byte) *workqueue.Operation[[]byte]

	// Sources lists the registered ingestion adapters.
	Sources() []datasource.AdapterInfo

	// Operations lists queued, running and recently finished operations.
	Operations() []workqueue.TaskSnapshot
}

// ReconcileConfig holds the defaults that request options override.
type ReconcileConfig struct {
	Compare      models.CompareConfig
	Resolve      models.ResolveConfig
	Apply        models.ApplyConfig
	DefaultStore string
}

// DefaultReconcileConfig returns structural comparison, balanced merge
// resolution, and backed-up applies against the "default" store.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Compare:      models.DefaultCompareConfig(),
		Resolve:      models.DefaultResolveConfig(),
		Apply:        models.ApplyConfig{Backup: true},
		DefaultStore: DefaultStoreKey,
	}
}

type reconcileService struct {
	builder    IRBuilderService
	comparator ComparatorService
	resolver   ResolverService
	applier    ApplierService
	validator  ValidatorService
	stores     repositories.StoreProvider
	queue      *workqueue.Queue
	cfg        ReconcileConfig
	logger     *zap.Logger
}

// NewReconcileService wires the pipeline services together.
func NewReconcileService(
	builder IRBuilderService,
	comparator ComparatorService,
	resolver ResolverService,
	applier ApplierService,
	validator ValidatorService,
	stores repositories.StoreProvider,
	queue *workqueue.Queue,
	cfg ReconcileConfig,
	logger *zap.Logger,
) ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultStore == "" {
		cfg.DefaultStore = DefaultStoreKey
	}
	return &reconcileService{
		builder:    builder,
		comparator: comparator,
		resolver:   resolver,
		applier:    applier,
		validator:  validator,
		stores:     stores,
		queue:      queue,
		cfg:        cfg,
		logger:     logger.Named("reconcile"),
	}
}

var _ ReconcileService = (*reconcileService)(nil)

func (s *reconcileService) BuildIR(ctx context.Context, opts documents.BuildIROptions) ([]byte, error) {
	ir, err := s.builder.Build(ctx, opts)
	if err != nil {
		return nil, s.fail("build_ir", err)
	}
	out, err := documents.MarshalSchemaIR(ir)
	if err != nil {
		return nil, s.fail("build_ir", err)
	}
	return out, nil
}

func (s *reconcileService) Compare(ctx context.Context, irA, irB []byte, opts documents.CompareOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := opts.CompareConfig(s.cfg.Compare)
	if err != nil {
		return nil, s.fail("compare", err)
	}
	a, err := parseSide("ir_a", irA)
	if err != nil {
		return nil, s.fail("compare", err)
	}
	b, err := parseSide("ir_b", irB)
	if err != nil {
		return nil, s.fail("compare", err)
	}

	result, err := s.comparator.Compare(a, b, cfg)
	if err != nil {
		return nil, s.fail("compare", err)
	}
	s.logger.Debug("Compared schemas",
		zap.String("a", a.SourceName),
		zap.String("b", b.SourceName),
		zap.String("strategy", string(cfg.Strategy)),
		zap.String("summary", summarizeComparison(result)),
	)

	out, err := documents.MarshalComparison(result)
	if err != nil {
		return nil, s.fail("compare", err)
	}
	return out, nil
}

func (s *reconcileService) ProposeResolution(ctx context.Context, comparison []byte, opts documents.ResolveOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := opts.ResolveConfig(s.cfg.Resolve)
	if err != nil {
		return nil, s.fail("propose_resolution", err)
	}
	diff, err := documents.ParseComparison(comparison)
	if err != nil {
		return nil, s.fail("propose_resolution", err)
	}
	plan, err := s.resolver.Propose(diff, cfg)
	if err != nil {
		return nil, s.fail("propose_resolution", err)
	}
	out, err := documents.MarshalPlan(plan)
	if err != nil {
		return nil, s.fail("propose_resolution", err)
	}
	return out, nil
}

func (s *reconcileService) ApplyResolution(ctx context.Context, planDoc []byte, opts documents.ApplyOptions) ([]byte, error) {
	cfg, err := opts.ApplyConfig(s.cfg.Apply)
	if err != nil {
		return nil, s.fail("apply_resolution", err)
	}
	plan, err := documents.ParsePlan(planDoc)
	if err != nil {
		return nil, s.fail("apply_resolution", err)
	}

	key := opts.StoreKey(s.cfg.DefaultStore)
	var store repositories.SchemaStore
	switch {
	case len(opts.BaseIR) > 0 && cfg.DryRun:
		// A dry run against base_ir projects onto a private copy; the
		// stored schema under key is never touched.
		if err := sql.CheckIdentifier("store", key); err != nil {
			return nil, s.fail("apply_resolution", err)
		}
		base, err := parseSide("base_ir", opts.BaseIR)
		if err != nil {
			return nil, s.fail("apply_resolution", err)
		}
		store = repositories.NewMemorySchemaStore(key, base)
	case len(opts.BaseIR) > 0:
		if err := s.SeedStore(ctx, key, opts.BaseIR); err != nil {
			return nil, err
		}
		fallthrough
	default:
		if store, err = s.store(ctx, key); err != nil {
			return nil, s.fail("apply_resolution", err)
		}
	}

	result, err := s.applier.Apply(ctx, store, plan, cfg)
	if err != nil {
		return nil, s.fail("apply_resolution", err)
	}
	out, err := documents.MarshalApplyResult(result)
	if err != nil {
		return nil, s.fail("apply_resolution", err)
	}
	return out, nil
}

func (s *reconcileService) ValidateIR(ctx context.Context, ir []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := documents.MarshalValidationReport(s.validator.ValidateDocument(ir))
	if err != nil {
		return nil, s.fail("validate_ir", err)
	}
	return out, nil
}

func (s *reconcileService) Rollback(ctx context.Context, storeKey, backupRef string) ([]byte, error) {
	if storeKey == "" {
		storeKey = s.cfg.DefaultStore
	}
	if strings.TrimSpace(backupRef) == "" {
		return nil, s.fail("rollback", apperrors.New(apperrors.CodeInvalidInput, "backup_ref is required"))
	}
	store, err := s.store(ctx, storeKey)
	if err != nil {
		return nil, s.fail("rollback", err)
	}
	if err := s.applier.Rollback(ctx, store, backupRef); err != nil {
		return nil, s.fail("rollback", err)
	}
	out, err := documents.MarshalRollback(storeKey, backupRef)
	if err != nil {
		return nil, s.fail("rollback", err)
	}
	return out, nil
}

func (s *reconcileService) SeedStore(ctx context.Context, storeKey string, ir []byte) error {
	if err := sql.CheckIdentifier("store", storeKey); err != nil {
		return s.fail("seed_store", err)
	}
	schema, err := parseSide("base_ir", ir)
	if err != nil {
		return s.fail("seed_store", err)
	}
	if err := s.stores.Seed(ctx, storeKey, schema); err != nil {
		return s.fail("seed_store", err)
	}
	s.logger.Info("Seeded store",
		zap.String("store", storeKey),
		zap.Int("entities", len(schema.Entities)))
	return nil
}

func (s *reconcileService) StoreSnapshot(ctx context.Context, storeKey string) ([]byte, error) {
	store, err := s.store(ctx, storeKey)
	if err != nil {
		return nil, s.fail("store_snapshot", err)
	}
	ir, err := store.Snapshot(ctx)
	if err != nil {
		return nil, s.fail("store_snapshot", err)
	}
	out, err := documents.MarshalSchemaIR(ir)
	if err != nil {
		return nil, s.fail("store_snapshot", err)
	}
	return out, nil
}

func (s *reconcileService) BuildIRAsync(opts documents.BuildIROptions) *workqueue.Operation[[]byte] {
	return workqueue.Submit(s.queue, "build_ir", "", func(ctx context.Context) ([]byte, error) {
		return s.BuildIR(ctx, opts)
	})
}

func (s *reconcileService) CompareAsync(irA, irB []byte, opts documents.CompareOptions) *workqueue.Operation[[]byte] {
	return workqueue.Submit(s.queue, "compare", "", func(ctx context.Context) ([]byte, error) {
		return s.Compare(ctx, irA, irB, opts)
	})
}

func (s *reconcileService) ProposeResolutionAsync(comparison []byte, opts documents.ResolveOptions) *workqueue.Operation[[]byte] {
	return workqueue.Submit(s.queue, "propose_resolution", "", func(ctx context.Context) ([]byte, error) {
		return s.ProposeResolution(ctx, comparison, opts)
	})
}

func (s *reconcileService) ApplyResolutionAsync(plan []byte, opts documents.ApplyOptions) *workqueue.Operation[[]byte] {
	key := opts.StoreKey(s.cfg.DefaultStore)
	return workqueue.Submit(s.queue, "apply_resolution", key, func(ctx context.Context) ([]byte, error) {
		return s.ApplyResolution(ctx, plan, opts)
	})
}

func (s *reconcileService) ValidateIRAsync(ir []byte) *workqueue.Operation[[]byte] {
	return workqueue.Submit(s.queue, "validate_ir", "", func(ctx context.Context) ([]byte, error) {
		return s.ValidateIR(ctx, ir)
	})
}

func (s *reconcileService) Sources() []datasource.AdapterInfo {
	return s.builder.Sources()
}

func (s *reconcileService) Operations() []workqueue.TaskSnapshot {
	return s.queue.GetTasks()
}

// store resolves a store key after checking it is a safe label.
func (s *reconcileService) store(ctx context.Context, key string) (repositories.SchemaStore, error) {
	if err := sql.CheckIdentifier("store", key); err != nil {
		return nil, err
	}
	return s.stores.Store(ctx, key)
}

// fail logs err by class and returns it unchanged. Anything that is not a
// caller, source or interruption error is an engine fault.
func (s *reconcileService) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	code := apperrors.CodeOf(err)
	switch {
	case apperrors.IsUserError(code):
		s.logger.Debug("Operation rejected",
			zap.String("operation", op),
			zap.String("code", string(code)),
			zap.String("error", apperrors.MessageOf(err)))
	case code == apperrors.CodeCancelled || code == apperrors.CodeTimeout:
		s.logger.Info("Operation interrupted",
			zap.String("operation", op),
			zap.String("code", string(code)))
	case code == apperrors.CodeDBConnectionFailed || code == apperrors.CodeIOError:
		s.logger.Warn("Operation could not reach its source",
			zap.String("operation", op),
			zap.String("code", string(code)),
			zap.String("error", apperrors.MessageOf(err)))
	default:
		s.logger.Error("Operation failed",
			zap.String("operation", op),
			zap.String("code", string(code)),
			zap.Error(err))
	}
	return err
}

// parseSide decodes one input SchemaIR document, naming it in the error.
func parseSide(name string, data []byte) (*models.SchemaIR, error) {
	ir, err := documents.ParseSchemaIR(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeOf(err), name+" is not a valid SchemaIR document", err)
	}
	return ir, nil
}
