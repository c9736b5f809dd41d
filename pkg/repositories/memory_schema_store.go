package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// entityState is an ordered entity map shared by the in-process stores.
type entityState struct {
	order    []string
	entities map[string]models.Entity
}

func newEntityState(entities []models.Entity) *entityState {
	s := &entityState{entities: make(map[string]models.Entity, len(entities))}
	for _, e := range entities {
		s.order = append(s.order, e.Name)
		s.entities[e.Name] = e.Clone()
	}
	return s
}

func (s *entityState) clone() *entityState {
	out := &entityState{
		order:    append([]string(nil), s.order...),
		entities: make(map[string]models.Entity, len(s.entities)),
	}
	for name, e := range s.entities {
		out.entities[name] = e.Clone()
	}
	return out
}

func (s *entityState) list() []models.Entity {
	out := make([]models.Entity, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entities[name].Clone())
	}
	return out
}

func (s *entityState) GetEntity(_ context.Context, name string) (*models.Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", name, apperrors.ErrNotFound)
	}
	c := e.Clone()
	return &c, nil
}

func (s *entityState) CreateEntity(_ context.Context, entity models.Entity) error {
	if _, ok := s.entities[entity.Name]; ok {
		return fmt.Errorf("entity %q: %w", entity.Name, apperrors.ErrConflict)
	}
	s.order = append(s.order, entity.Name)
	s.entities[entity.Name] = entity.Clone()
	return nil
}

func (s *entityState) DropEntity(_ context.Context, name string) error {
	if _, ok := s.entities[name]; !ok {
		return fmt.Errorf("entity %q: %w", name, apperrors.ErrNotFound)
	}
	delete(s.entities, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *entityState) RenameEntity(_ context.Context, from, to string) error {
	e, ok := s.entities[from]
	if !ok {
		return fmt.Errorf("entity %q: %w", from, apperrors.ErrNotFound)
	}
	if _, exists := s.entities[to]; exists {
		return fmt.Errorf("entity %q: %w", to, apperrors.ErrConflict)
	}
	delete(s.entities, from)
	e.Name = to
	s.entities[to] = e
	for i, n := range s.order {
		if n == from {
			s.order[i] = to
			break
		}
	}
	return nil
}

func (s *entityState) PutField(_ context.Context, entity string, field models.Field) error {
	e, ok := s.entities[entity]
	if !ok {
		return fmt.Errorf("entity %q: %w", entity, apperrors.ErrNotFound)
	}
	if existing, found := e.Field(field.Name); found {
		*existing = field.Clone()
	} else {
		e.Fields = append(e.Fields, field.Clone())
	}
	s.entities[entity] = e
	return nil
}

func (s *entityState) DropField(_ context.Context, entity, field string) error {
	e, ok := s.entities[entity]
	if !ok {
		return fmt.Errorf("entity %q: %w", entity, apperrors.ErrNotFound)
	}
	for i, f := range e.Fields {
		if f.Name == field {
			e.Fields = append(e.Fields[:i:i], e.Fields[i+1:]...)
			s.entities[entity] = e
			return nil
		}
	}
	return fmt.Errorf("field %q.%q: %w", entity, field, apperrors.ErrNotFound)
}

func (s *entityState) RenameField(_ context.Context, entity, from, to string) error {
	e, ok := s.entities[entity]
	if !ok {
		return fmt.Errorf("entity %q: %w", entity, apperrors.ErrNotFound)
	}
	if _, exists := e.Field(to); exists {
		return fmt.Errorf("field %q.%q: %w", entity, to, apperrors.ErrConflict)
	}
	f, found := e.Field(from)
	if !found {
		return fmt.Errorf("field %q.%q: %w", entity, from, apperrors.ErrNotFound)
	}
	f.Name = to
	s.entities[entity] = e
	return nil
}

var _ SchemaTx = (*entityState)(nil)

// backupEntry is one captured entity; nil Entity records absence.
type backupEntry struct {
	Name   string
	Entity *models.Entity
}

// MemorySchemaStore keeps a schema in process memory.
type MemorySchemaStore struct {
	mu         sync.RWMutex
	key        string
	sourceName string
	sourceType models.SourceType
	irVersion  string
	state      *entityState
	backups    map[string][]backupEntry
}

// NewMemorySchemaStore seeds a store from a schema snapshot.
func NewMemorySchemaStore(key string, seed *models.SchemaIR) *MemorySchemaStore {
	s := &MemorySchemaStore{
		key:        key,
		sourceType: models.SourceTypeMemory,
		irVersion:  models.CurrentIRVersion,
		state:      newEntityState(nil),
		backups:    make(map[string][]backupEntry),
	}
	if seed != nil {
		s.sourceName = seed.SourceName
		if seed.SourceType != "" {
			s.sourceType = seed.SourceType
		}
		if seed.IRVersion != "" {
			s.irVersion = seed.IRVersion
		}
		s.state = newEntityState(seed.Entities)
	}
	if s.sourceName == "" {
		s.sourceName = key
	}
	return s
}

var _ SchemaStore = (*MemorySchemaStore)(nil)

func (s *MemorySchemaStore) Key() string {
	return s.key
}

func (s *MemorySchemaStore) Snapshot(_ context.Context) (*models.SchemaIR, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.SchemaIR{
		SourceName: s.sourceName,
		SourceType: s.sourceType,
		IRVersion:  s.irVersion,
		Entities:   s.state.list(),
	}, nil
}

// Mutate works on a copy and swaps it in only if fn succeeds and ctx is
// still live.
func (s *MemorySchemaStore) Mutate(ctx context.Context, fn func(tx SchemaTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Seed replaces the whole schema.
func (s *MemorySchemaStore) Seed(_ context.Context, ir *models.SchemaIR) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newEntityState(ir.Entities)
	if ir.SourceName != "" {
		s.sourceName = ir.SourceName
	}
	if ir.SourceType != "" {
		s.sourceType = ir.SourceType
	}
	if ir.IRVersion != "" {
		s.irVersion = ir.IRVersion
	}
	return nil
}

func (s *MemorySchemaStore) Backup(ctx context.Context, entities []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := uuid.New().String()
	s.backups[ref] = captureEntities(s.state, entities)
	return ref, nil
}

func (s *MemorySchemaStore) Restore(ctx context.Context, ref string) error {
	s.mu.RLock()
	entries, ok := s.backups[ref]
	s.mu.RUnlock()
	if !ok {
		return apperrors.Newf(apperrors.CodeInvalidInput, "unknown backup %q", ref)
	}
	return s.Mutate(ctx, func(tx SchemaTx) error {
		return restoreEntries(ctx, tx, entries)
	})
}

func captureEntities(state *entityState, names []string) []backupEntry {
	uniq := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			uniq[n] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	entries := make([]backupEntry, 0, len(sorted))
	for _, n := range sorted {
		entry := backupEntry{Name: n}
		if e, ok := state.entities[n]; ok {
			c := e.Clone()
			entry.Entity = &c
		}
		entries = append(entries, entry)
	}
	return entries
}

// restoreEntries drops every captured name first so captured renames can be
// undone, then recreates the entities that existed at capture time.
func restoreEntries(ctx context.Context, tx SchemaTx, entries []backupEntry) error {
	for _, entry := range entries {
		if _, err := tx.GetEntity(ctx, entry.Name); err == nil {
			if err := tx.DropEntity(ctx, entry.Name); err != nil {
				return fmt.Errorf("restore %q: %w", entry.Name, err)
			}
		}
	}
	for _, entry := range entries {
		if entry.Entity == nil {
			continue
		}
		if err := tx.CreateEntity(ctx, *entry.Entity); err != nil {
			return fmt.Errorf("restore %q: %w", entry.Name, err)
		}
	}
	return nil
}
