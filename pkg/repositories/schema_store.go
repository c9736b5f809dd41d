package repositories

import (
	"context"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// SchemaTx is the view of a store inside one atomic mutation. Lookups of
// missing entities or fields return apperrors.ErrNotFound; creating over an
// existing name returns apperrors.ErrConflict.
type SchemaTx interface {
	GetEntity(ctx context.Context, name string) (*models.Entity, error)
	CreateEntity(ctx context.Context, entity models.Entity) error
	DropEntity(ctx context.Context, name string) error
	RenameEntity(ctx context.Context, from, to string) error

	// PutField creates the field or replaces its attributes.
	PutField(ctx context.Context, entity string, field models.Field) error
	DropField(ctx context.Context, entity, field string) error
	RenameField(ctx context.Context, entity, from, to string) error
}

// SchemaStore is a mutation-capable handle on a schema. Each Mutate call is
// atomic: either every change made through the SchemaTx is kept or none is.
type SchemaStore interface {
	// Key identifies the store; plans on different keys may run concurrently.
	Key() string

	// Snapshot returns the current schema.
	Snapshot(ctx context.Context) (*models.SchemaIR, error)

	// Mutate runs fn in one transaction and commits when fn returns nil.
	Mutate(ctx context.Context, fn func(tx SchemaTx) error) error

	// Backup captures the named entities, including their absence, and
	// returns a reference for Restore.
	Backup(ctx context.Context, entities []string) (string, error)

	// Restore puts every captured entity back to its captured state.
	Restore(ctx context.Context, ref string) error
}
