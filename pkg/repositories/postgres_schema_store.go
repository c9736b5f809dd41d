package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/database"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/documents"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// PostgresSchemaStore keeps schema definitions for one store key in
// PostgreSQL. Every Mutate runs in its own transaction holding an advisory
// lock on the key, so concurrent plans against one key serialize.
type PostgresSchemaStore struct {
	db  *database.DB
	key string
}

// NewPostgresSchemaStore creates a store handle for key.
func NewPostgresSchemaStore(db *database.DB, key string) *PostgresSchemaStore {
	return &PostgresSchemaStore{db: db, key: key}
}

var _ SchemaStore = (*PostgresSchemaStore)(nil)

func (s *PostgresSchemaStore) Key() string {
	return s.key
}

func (s *PostgresSchemaStore) Snapshot(ctx context.Context) (*models.SchemaIR, error) {
	query := `
		SELECT definition
		FROM reconcile_store_entities
		WHERE store_key = $1
		ORDER BY position, entity_name`

	rows, err := s.db.Query(ctx, query, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to query store entities: %w", err)
	}
	defer rows.Close()

	ir := &models.SchemaIR{
		SourceName: s.key,
		SourceType: models.SourceTypeDB,
		IRVersion:  models.CurrentIRVersion,
	}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan store entity: %w", err)
		}
		e, err := decodeEntity(raw)
		if err != nil {
			return nil, err
		}
		ir.Entities = append(ir.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate store entities: %w", err)
	}
	return ir, nil
}

func (s *PostgresSchemaStore) Mutate(ctx context.Context, fn func(tx SchemaTx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.key); err != nil {
			return fmt.Errorf("failed to lock store %q: %w", s.key, err)
		}
		return fn(&postgresSchemaTx{tx: tx, key: s.key})
	})
}

// Seed replaces every entity of the store with the entities of ir.
func (s *PostgresSchemaStore) Seed(ctx context.Context, ir *models.SchemaIR) error {
	return s.Mutate(ctx, func(stx SchemaTx) error {
		ptx := stx.(*postgresSchemaTx)
		if _, err := ptx.tx.Exec(ctx, `DELETE FROM reconcile_store_entities WHERE store_key = $1`, s.key); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
		for _, e := range ir.Entities {
			if err := ptx.CreateEntity(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresSchemaStore) Backup(ctx context.Context, entities []string) (string, error) {
	ref := uuid.New()
	err := s.Mutate(ctx, func(stx SchemaTx) error {
		ptx := stx.(*postgresSchemaTx)
		state := newEntityState(nil)
		for _, name := range entities {
			e, err := ptx.GetEntity(ctx, name)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			state.entities[e.Name] = *e
			state.order = append(state.order, e.Name)
		}

		payload, err := json.Marshal(encodeBackup(captureEntities(state, entities)))
		if err != nil {
			return fmt.Errorf("failed to encode backup: %w", err)
		}
		_, err = ptx.tx.Exec(ctx, `
			INSERT INTO reconcile_backups (id, store_key, entries, created_at)
			VALUES ($1, $2, $3, NOW())`, ref, s.key, payload)
		if err != nil {
			return fmt.Errorf("failed to store backup: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}

func (s *PostgresSchemaStore) Restore(ctx context.Context, ref string) error {
	id, err := uuid.Parse(ref)
	if err != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput, "invalid backup reference %q", ref)
	}

	return s.Mutate(ctx, func(stx SchemaTx) error {
		ptx := stx.(*postgresSchemaTx)
		var raw []byte
		err := ptx.tx.QueryRow(ctx, `
			SELECT entries FROM reconcile_backups
			WHERE id = $1 AND store_key = $2`, id, s.key).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Newf(apperrors.CodeInvalidInput, "unknown backup %q", ref)
		}
		if err != nil {
			return fmt.Errorf("failed to load backup: %w", err)
		}

		var docs []backupDocument
		if err := json.Unmarshal(raw, &docs); err != nil {
			return fmt.Errorf("failed to decode backup: %w", err)
		}
		return restoreEntries(ctx, ptx, decodeBackup(docs))
	})
}

type postgresSchemaTx struct {
	tx  pgx.Tx
	key string
}

var _ SchemaTx = (*postgresSchemaTx)(nil)

func (t *postgresSchemaTx) GetEntity(ctx context.Context, name string) (*models.Entity, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx, `
		SELECT definition FROM reconcile_store_entities
		WHERE store_key = $1 AND entity_name = $2
		FOR UPDATE`, t.key, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", name, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %q: %w", name, err)
	}
	e, err := decodeEntity(raw)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *postgresSchemaTx) CreateEntity(ctx context.Context, entity models.Entity) error {
	raw, err := encodeEntity(entity)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO reconcile_store_entities (store_key, entity_name, position, definition, updated_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM reconcile_store_entities WHERE store_key = $1),
			$3, NOW())
		ON CONFLICT (store_key, entity_name) DO NOTHING`, t.key, entity.Name, raw)
	if err != nil {
		return fmt.Errorf("failed to create entity %q: %w", entity.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", entity.Name, apperrors.ErrConflict)
	}
	return nil
}

func (t *postgresSchemaTx) DropEntity(ctx context.Context, name string) error {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM reconcile_store_entities
		WHERE store_key = $1 AND entity_name = $2`, t.key, name)
	if err != nil {
		return fmt.Errorf("failed to drop entity %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", name, apperrors.ErrNotFound)
	}
	return nil
}

func (t *postgresSchemaTx) RenameEntity(ctx context.Context, from, to string) error {
	e, err := t.GetEntity(ctx, from)
	if err != nil {
		return err
	}
	if _, err := t.GetEntity(ctx, to); err == nil {
		return fmt.Errorf("entity %q: %w", to, apperrors.ErrConflict)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	e.Name = to
	raw, err := encodeEntity(*e)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE reconcile_store_entities
		SET entity_name = $3, definition = $4, updated_at = NOW()
		WHERE store_key = $1 AND entity_name = $2`, t.key, from, to, raw)
	if err != nil {
		return fmt.Errorf("failed to rename entity %q: %w", from, err)
	}
	return nil
}

// updateEntity loads an entity, applies edit and writes it back.
func (t *postgresSchemaTx) updateEntity(ctx context.Context, name string, edit func(e *models.Entity) error) error {
	e, err := t.GetEntity(ctx, name)
	if err != nil {
		return err
	}
	if err := edit(e); err != nil {
		return err
	}
	raw, err := encodeEntity(*e)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE reconcile_store_entities
		SET definition = $3, updated_at = NOW()
		WHERE store_key = $1 AND entity_name = $2`, t.key, name, raw)
	if err != nil {
		return fmt.Errorf("failed to update entity %q: %w", name, err)
	}
	return nil
}

func (t *postgresSchemaTx) PutField(ctx context.Context, entity string, field models.Field) error {
	return t.updateEntity(ctx, entity, func(e *models.Entity) error {
		if existing, ok := e.Field(field.Name); ok {
			*existing = field.Clone()
			return nil
		}
		e.Fields = append(e.Fields, field.Clone())
		return nil
	})
}

func (t *postgresSchemaTx) DropField(ctx context.Context, entity, field string) error {
	return t.updateEntity(ctx, entity, func(e *models.Entity) error {
		for i, f := range e.Fields {
			if f.Name == field {
				e.Fields = append(e.Fields[:i:i], e.Fields[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("field %q.%q: %w", entity, field, apperrors.ErrNotFound)
	})
}

func (t *postgresSchemaTx) RenameField(ctx context.Context, entity, from, to string) error {
	return t.updateEntity(ctx, entity, func(e *models.Entity) error {
		if _, exists := e.Field(to); exists {
			return fmt.Errorf("field %q.%q: %w", entity, to, apperrors.ErrConflict)
		}
		f, ok := e.Field(from)
		if !ok {
			return fmt.Errorf("field %q.%q: %w", entity, from, apperrors.ErrNotFound)
		}
		f.Name = to
		return nil
	})
}

func encodeEntity(e models.Entity) ([]byte, error) {
	raw, err := json.Marshal(documents.FromEntity(e))
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity %q: %w", e.Name, err)
	}
	return raw, nil
}

func decodeEntity(raw []byte) (models.Entity, error) {
	var doc documents.EntityDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Entity{}, fmt.Errorf("failed to decode entity definition: %w", err)
	}
	return doc.ToModel(), nil
}

type backupDocument struct {
	Name   string                    `json:"name"`
	Entity *documents.EntityDocument `json:"entity,omitempty"`
}

func encodeBackup(entries []backupEntry) []backupDocument {
	out := make([]backupDocument, 0, len(entries))
	for _, e := range entries {
		doc := backupDocument{Name: e.Name}
		if e.Entity != nil {
			d := documents.FromEntity(*e.Entity)
			doc.Entity = &d
		}
		out = append(out, doc)
	}
	return out
}

func decodeBackup(docs []backupDocument) []backupEntry {
	out := make([]backupEntry, 0, len(docs))
	for _, d := range docs {
		entry := backupEntry{Name: d.Name}
		if d.Entity != nil {
			e := d.Entity.ToModel()
			entry.Entity = &e
		}
		out = append(out, entry)
	}
	return out
}
