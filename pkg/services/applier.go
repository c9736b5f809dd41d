package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/repositories"
)

// errAlreadyConverged marks an action whose target is already in its end state.
var errAlreadyConverged = errors.New("already converged")

// ApplierService executes resolution plans against a schema store.
type ApplierService interface {
	// Apply runs plan against store. An invalid plan returns an INVALID_INPUT
	// error and touches nothing. Per-action failures are reported in the
	// result, not as an error.
	Apply(ctx context.Context, store repositories.SchemaStore, plan *models.ResolutionPlan, cfg models.ApplyConfig) (*models.ApplyResult, error)

	// Rollback restores the entities captured by a backup taken during Apply.
	Rollback(ctx context.Context, store repositories.SchemaStore, backupRef string) error
}

type applierService struct {
	runs   repositories.ApplyRunRepository
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewApplierService creates a new ApplierService. runs may be nil, in which
// case no audit trail is kept.
func NewApplierService(runs repositories.ApplyRunRepository, logger *zap.Logger) ApplierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &applierService{
		runs:   runs,
		logger: logger.Named("applier"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

var _ ApplierService = (*applierService)(nil)

// storeLock serializes applies that share a store key.
func (s *applierService) storeLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *applierService) Apply(ctx context.Context, store repositories.SchemaStore, plan *models.ResolutionPlan, cfg models.ApplyConfig) (*models.ApplyResult, error) {
	if store == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "schema store is required")
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	lock := s.storeLock(store.Key())
	lock.Lock()
	defer lock.Unlock()

	res := &models.ApplyResult{
		RunID:     uuid.New().String(),
		PlanID:    plan.ID,
		DryRun:    cfg.DryRun,
		State:     models.ApplyStateProposed,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("plan_id", plan.ID),
		zap.String("store", store.Key()),
	)
	s.transition(log, res, models.ApplyStateValidating)

	target := store
	if cfg.DryRun {
		target = repositories.NewOverlaySchemaStore(store)
		s.transition(log, res, models.ApplyStateDryRun)
	} else {
		s.transition(log, res, models.ApplyStateApplying)
		if cfg.Backup {
			if err := ctx.Err(); err != nil {
				s.skipRemaining(ctx, res, plan.Actions, 0)
				return s.finish(ctx, log, store, res), nil
			}
			ref, err := store.Backup(ctx, backupTargets(plan))
			if err != nil {
				log.Error("Backup failed, plan not applied", zap.Error(err))
				return nil, fmt.Errorf("failed to back up store %q: %w", store.Key(), err)
			}
			res.BackupRef = ref
			log.Info("Backup taken", zap.String("backup_ref", ref))
		}
	}

	stopped := false
	for i, action := range plan.Actions {
		if ctx.Err() != nil {
			s.skipRemaining(ctx, res, plan.Actions, i)
			break
		}
		outcome := models.ActionOutcome{Index: i, Target: action.Target, Kind: action.Kind}

		if stopped {
			outcome.Status = models.OutcomeSkipped
			outcome.Message = "not attempted after an earlier failure"
			res.Record(outcome)
			continue
		}
		if !action.Mutating() {
			outcome.Status = models.OutcomeSkipped
			outcome.Message = "requires manual review"
			res.Record(outcome)
			continue
		}

		var change string
		err := target.Mutate(ctx, func(tx repositories.SchemaTx) error {
			var err error
			change, err = executeAction(ctx, tx, action)
			return err
		})
		if err != nil && !errors.Is(err, errAlreadyConverged) && ctx.Err() != nil {
			// The transaction was abandoned; nothing from this action is kept.
			s.skipRemaining(ctx, res, plan.Actions, i)
			break
		}

		switch {
		case err == nil:
			outcome.Status = models.OutcomeSucceeded
			outcome.Message = change
			if cfg.DryRun {
				outcome.Projection = "would " + change
			}
		case errors.Is(err, errAlreadyConverged):
			outcome.Status = models.OutcomeSkipped
			outcome.Message = "already converged"
		default:
			outcome.Status = models.OutcomeFailed
			outcome.Message = apperrors.MessageOf(err)
			outcome.Code = outcomeCode(err)
			log.Warn("Action failed",
				zap.Int("index", i),
				zap.String("target", action.Target),
				zap.String("kind", string(action.Kind)),
				zap.Error(err),
			)
			stopped = cfg.StopOnFailure
		}
		res.Record(outcome)
	}

	if cfg.DryRun {
		res.WouldApply = res.Succeeded
	}
	return s.finish(ctx, log, store, res), nil
}

// skipRemaining records every action from index from on as skipped because
// ctx ended.
func (s *applierService) skipRemaining(ctx context.Context, res *models.ApplyResult, actions []models.Action, from int) {
	code := apperrors.CodeOf(ctx.Err())
	res.Code = code
	for i := from; i < len(actions); i++ {
		res.Record(models.ActionOutcome{
			Index:   i,
			Target:  actions[i].Target,
			Kind:    actions[i].Kind,
			Status:  models.OutcomeSkipped,
			Message: "not attempted: " + string(code),
			Code:    code,
		})
	}
}

func (s *applierService) finish(ctx context.Context, log *zap.Logger, store repositories.SchemaStore, res *models.ApplyResult) *models.ApplyResult {
	switch {
	case res.Code == apperrors.CodeCancelled || res.Code == apperrors.CodeTimeout:
		s.transition(log, res, models.ApplyStateCancelled)
	case res.Failed > 0:
		s.transition(log, res, models.ApplyStateFailedPartial)
	default:
		s.transition(log, res, models.ApplyStateCommitted)
	}
	res.FinishedAt = s.now().UTC()

	log.Info("Plan applied",
		zap.Bool("dry_run", res.DryRun),
		zap.String("state", string(res.State)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)

	if !res.DryRun && s.runs != nil {
		run := &models.ApplyRun{
			ID:         res.RunID,
			PlanID:     res.PlanID,
			StoreKey:   store.Key(),
			State:      res.State,
			BackupRef:  res.BackupRef,
			Succeeded:  res.Succeeded,
			Failed:     res.Failed,
			Skipped:    res.Skipped,
			StartedAt:  res.StartedAt,
			FinishedAt: res.FinishedAt,
		}
		if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
			log.Error("Failed to record apply run", zap.Error(err))
		}
	}
	return res
}

func (s *applierService) transition(log *zap.Logger, res *models.ApplyResult, to models.ApplyState) {
	log.Debug("Apply state transition",
		zap.String("from", string(res.State)),
		zap.String("to", string(to)),
	)
	res.State = to
}

func (s *applierService) Rollback(ctx context.Context, store repositories.SchemaStore, backupRef string) error {
	if store == nil {
		return apperrors.New(apperrors.CodeInvalidInput, "schema store is required")
	}
	if backupRef == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "backup_ref is required")
	}
	lock := s.storeLock(store.Key())
	lock.Lock()
	defer lock.Unlock()

	if err := store.Restore(ctx, backupRef); err != nil {
		return fmt.Errorf("failed to restore backup %s: %w", backupRef, err)
	}
	s.logger.Info("Backup restored",
		zap.String("store", store.Key()),
		zap.String("backup_ref", backupRef),
	)
	return nil
}

// outcomeCode classifies a per-action failure.
func outcomeCode(err error) apperrors.Code {
	var coded *apperrors.Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrConflict) {
		return apperrors.CodeInvalidInput
	}
	return apperrors.CodeOf(err)
}

// ValidatePlan checks that every action carries what execution needs.
func ValidatePlan(plan *models.ResolutionPlan) error {
	if plan == nil {
		return apperrors.New(apperrors.CodeInvalidInput, "plan is required")
	}
	for i, a := range plan.Actions {
		if _, err := models.ParseActionKind(string(a.Kind)); err != nil {
			return apperrors.Newf(apperrors.CodeInvalidInput, "action %d: %s", i, apperrors.MessageOf(err))
		}
		if a.Entity == "" {
			return apperrors.Newf(apperrors.CodeInvalidInput, "action %d (%s): entity is required", i, a.Target)
		}
		switch a.Scope {
		case models.ScopeEntity:
			if a.Kind == models.ActionRename && a.RenameTo == "" {
				return apperrors.Newf(apperrors.CodeInvalidInput, "action %d (%s): rename requires rename_to", i, a.Target)
			}
		case models.ScopeField:
			if a.Field == "" {
				return apperrors.Newf(apperrors.CodeInvalidInput, "action %d (%s): field is required", i, a.Target)
			}
			switch a.Kind {
			case models.ActionAcceptA, models.ActionAcceptB, models.ActionMerge, models.ActionRename:
				if a.Desired == nil {
					return apperrors.Newf(apperrors.CodeInvalidInput, "action %d (%s): %s requires a desired field", i, a.Target, a.Kind)
				}
			}
		default:
			return apperrors.Newf(apperrors.CodeInvalidInput, "action %d (%s): unknown scope %q", i, a.Target, a.Scope)
		}
	}
	return nil
}

// backupTargets lists every entity name a plan may touch.
func backupTargets(plan *models.ResolutionPlan) []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}
	for _, a := range plan.Actions {
		if !a.Mutating() {
			continue
		}
		add(a.Entity)
		add(a.EntityAlias)
		if a.Scope == models.ScopeEntity {
			add(a.RenameTo)
		}
		if a.DesiredEntity != nil {
			add(a.DesiredEntity.Name)
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// lookupEntity returns nil without error when the entity is absent.
func lookupEntity(ctx context.Context, tx repositories.SchemaTx, name string) (*models.Entity, error) {
	if name == "" {
		return nil, nil
	}
	e, err := tx.GetEntity(ctx, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// executeAction performs one action inside a transaction and describes the
// change it made. Targets already in their end state return
// errAlreadyConverged so re-applying a plan is a no-op.
func executeAction(ctx context.Context, tx repositories.SchemaTx, a models.Action) (string, error) {
	if a.Scope == models.ScopeEntity {
		return executeEntityAction(ctx, tx, a)
	}
	return executeFieldAction(ctx, tx, a)
}

func executeEntityAction(ctx context.Context, tx repositories.SchemaTx, a models.Action) (string, error) {
	cur, err := lookupEntity(ctx, tx, a.Entity)
	if err != nil {
		return "", err
	}

	switch {
	case a.Kind == models.ActionDrop:
		if cur == nil {
			return "", errAlreadyConverged
		}
		if err := tx.DropEntity(ctx, a.Entity); err != nil {
			return "", err
		}
		return fmt.Sprintf("drop entity %s", a.Entity), nil

	case a.RenameTo != "" && a.RenameTo != a.Entity:
		tgt, err := lookupEntity(ctx, tx, a.RenameTo)
		if err != nil {
			return "", err
		}
		switch {
		case cur != nil && tgt == nil:
			if err := tx.RenameEntity(ctx, a.Entity, a.RenameTo); err != nil {
				return "", err
			}
			return fmt.Sprintf("rename entity %s -> %s", a.Entity, a.RenameTo), nil
		case cur == nil && tgt != nil:
			return "", errAlreadyConverged
		case cur == nil:
			return "", fmt.Errorf("entity %s: %w", a.Entity, apperrors.ErrNotFound)
		default:
			return "", fmt.Errorf("cannot rename %s to %s: %w", a.Entity, a.RenameTo, apperrors.ErrConflict)
		}

	case a.DesiredEntity != nil:
		if cur != nil {
			return "", errAlreadyConverged
		}
		want := a.DesiredEntity.Clone()
		want.Name = a.Entity
		if err := tx.CreateEntity(ctx, want); err != nil {
			return "", err
		}
		return fmt.Sprintf("create entity %s with %d fields", want.Name, len(want.Fields)), nil

	default:
		// Keep the entity as it is in a.
		if cur == nil {
			return "", fmt.Errorf("entity %s: %w", a.Entity, apperrors.ErrNotFound)
		}
		return "", errAlreadyConverged
	}
}

func executeFieldAction(ctx context.Context, tx repositories.SchemaTx, a models.Action) (string, error) {
	entityName := a.Entity
	ent, err := lookupEntity(ctx, tx, entityName)
	if err != nil {
		return "", err
	}
	if ent == nil && a.EntityAlias != "" {
		entityName = a.EntityAlias
		if ent, err = lookupEntity(ctx, tx, entityName); err != nil {
			return "", err
		}
	}

	if a.Kind == models.ActionDrop {
		if ent == nil {
			return "", errAlreadyConverged
		}
		if _, ok := ent.Field(a.Field); !ok {
			return "", errAlreadyConverged
		}
		if err := tx.DropField(ctx, entityName, a.Field); err != nil {
			return "", err
		}
		return fmt.Sprintf("drop field %s.%s", entityName, a.Field), nil
	}

	if ent == nil {
		return "", fmt.Errorf("entity %s: %w", a.Entity, apperrors.ErrNotFound)
	}
	want := a.Desired.Clone()

	if a.RenameTo != "" && a.RenameTo != a.Field {
		want.Name = a.RenameTo
		cur, hasCur := ent.Field(a.Field)
		tgt, hasTgt := ent.Field(a.RenameTo)
		switch {
		case hasCur && !hasTgt:
			if err := tx.RenameField(ctx, entityName, a.Field, a.RenameTo); err != nil {
				return "", err
			}
			desc := fmt.Sprintf("rename field %s.%s -> %s", entityName, a.Field, a.RenameTo)
			if !cur.Attributes().Equal(want.Attributes()) {
				if err := tx.PutField(ctx, entityName, want); err != nil {
					return "", err
				}
				desc += " and update attributes"
			}
			return desc, nil
		case !hasCur && hasTgt:
			if tgt.Attributes().Equal(want.Attributes()) {
				return "", errAlreadyConverged
			}
			if err := tx.PutField(ctx, entityName, want); err != nil {
				return "", err
			}
			return fmt.Sprintf("update field %s.%s", entityName, want.Name), nil
		case !hasCur:
			return "", fmt.Errorf("field %s.%s: %w", entityName, a.Field, apperrors.ErrNotFound)
		default:
			return "", fmt.Errorf("cannot rename %s.%s to %s: %w", entityName, a.Field, a.RenameTo, apperrors.ErrConflict)
		}
	}

	want.Name = a.Field
	cur, ok := ent.Field(a.Field)
	switch {
	case ok && cur.Attributes().Equal(want.Attributes()):
		return "", errAlreadyConverged
	case ok:
		if err := tx.PutField(ctx, entityName, want); err != nil {
			return "", err
		}
		return fmt.Sprintf("update field %s.%s", entityName, want.Name), nil
	case a.Origin == models.ChangeAdded || a.Origin == models.ChangeRemoved:
		if err := tx.PutField(ctx, entityName, want); err != nil {
			return "", err
		}
		return fmt.Sprintf("add field %s.%s", entityName, want.Name), nil
	default:
		return "", fmt.Errorf("field %s.%s: %w", entityName, a.Field, apperrors.ErrNotFound)
	}
}
