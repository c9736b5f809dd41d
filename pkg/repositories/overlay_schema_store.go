package repositories

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// OverlaySchemaStore simulates mutations on a private copy of a base store.
// Nothing is ever written to the base.
type OverlaySchemaStore struct {
	base  SchemaStore
	once  sync.Once
	err   error
	inner *MemorySchemaStore
}

// NewOverlaySchemaStore wraps base for a dry run.
func NewOverlaySchemaStore(base SchemaStore) *OverlaySchemaStore {
	return &OverlaySchemaStore{base: base}
}

var _ SchemaStore = (*OverlaySchemaStore)(nil)

func (o *OverlaySchemaStore) load(ctx context.Context) error {
	o.once.Do(func() {
		snap, err := o.base.Snapshot(ctx)
		if err != nil {
			o.err = err
			return
		}
		o.inner = NewMemorySchemaStore(o.base.Key(), snap)
	})
	return o.err
}

func (o *OverlaySchemaStore) Key() string {
	return o.base.Key()
}

func (o *OverlaySchemaStore) Snapshot(ctx context.Context) (*models.SchemaIR, error) {
	if err := o.load(ctx); err != nil {
		return nil, err
	}
	return o.inner.Snapshot(ctx)
}

func (o *OverlaySchemaStore) Mutate(ctx context.Context, fn func(tx SchemaTx) error) error {
	if err := o.load(ctx); err != nil {
		return err
	}
	return o.inner.Mutate(ctx, fn)
}

func (o *OverlaySchemaStore) Backup(context.Context, []string) (string, error) {
	return "", apperrors.New(apperrors.CodeInternal, "backups are not taken during a dry run")
}

func (o *OverlaySchemaStore) Restore(context.Context, string) error {
	return apperrors.New(apperrors.CodeInternal, "restore is not available during a dry run")
}
