package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/database"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// ApplyRunRepository keeps the audit trail of non-dry-run applies.
type ApplyRunRepository interface {
	// Record inserts a finished run.
	Record(ctx context.Context, run *models.ApplyRun) error

	// ListByPlan returns the runs of a plan, oldest first.
	ListByPlan(ctx context.Context, planID string) ([]*models.ApplyRun, error)
}

type applyRunRepository struct {
	db *database.DB
}

// NewApplyRunRepository creates a PostgreSQL-backed ApplyRunRepository.
func NewApplyRunRepository(db *database.DB) ApplyRunRepository {
	return &applyRunRepository{db: db}
}

var _ ApplyRunRepository = (*applyRunRepository)(nil)

func (r *applyRunRepository) Record(ctx context.Context, run *models.ApplyRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query := `
		INSERT INTO reconcile_apply_runs (
			id, plan_id, store_key, state, backup_ref,
			succeeded, failed, skipped, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		run.ID,
		run.PlanID,
		run.StoreKey,
		string(run.State),
		nullableString(run.BackupRef),
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record apply run: %w", err)
	}
	return nil
}

func (r *applyRunRepository) ListByPlan(ctx context.Context, planID string) ([]*models.ApplyRun, error) {
	query := `
		SELECT id::text, plan_id, store_key, state, COALESCE(backup_ref::text, ''),
		       succeeded, failed, skipped, started_at, finished_at
		FROM reconcile_apply_runs
		WHERE plan_id = $1
		ORDER BY started_at, id`

	rows, err := r.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apply runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ApplyRun
	for rows.Next() {
		var run models.ApplyRun
		var state string
		if err := rows.Scan(
			&run.ID, &run.PlanID, &run.StoreKey, &state, &run.BackupRef,
			&run.Succeeded, &run.Failed, &run.Skipped, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan apply run: %w", err)
		}
		run.State = models.ApplyState(state)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apply runs: %w", err)
	}
	return runs, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type memoryApplyRunRepository struct {
	mu   sync.Mutex
	runs []*models.ApplyRun
}

// NewMemoryApplyRunRepository creates an in-process ApplyRunRepository.
func NewMemoryApplyRunRepository() ApplyRunRepository {
	return &memoryApplyRunRepository{}
}

var _ ApplyRunRepository = (*memoryApplyRunRepository)(nil)

func (r *memoryApplyRunRepository) Record(_ context.Context, run *models.ApplyRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *run
	r.runs = append(r.runs, &c)
	return nil
}

func (r *memoryApplyRunRepository) ListByPlan(_ context.Context, planID string) ([]*models.ApplyRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ApplyRun
	for _, run := range r.runs {
		if run.PlanID == planID {
			c := *run
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
