package repositories

import (
	"context"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/database"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// StoreProvider hands out store handles by key.
type StoreProvider interface {
	Store(ctx context.Context, key string) (SchemaStore, error)
	// Seed replaces the schema held under key.
	Seed(ctx context.Context, key string, ir *models.SchemaIR) error
}

// NewMemoryStoreProvider keeps one MemorySchemaStore per key for the life of
// the process.
func NewMemoryStoreProvider() StoreProvider {
	return &memoryStoreProvider{stores: make(map[string]*MemorySchemaStore)}
}

type memoryStoreProvider struct {
	mu     sync.Mutex
	stores map[string]*MemorySchemaStore
}

func (p *memoryStoreProvider) get(key string) (*MemorySchemaStore, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "store key is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stores[key]
	if !ok {
		s = NewMemorySchemaStore(key, nil)
		p.stores[key] = s
	}
	return s, nil
}

func (p *memoryStoreProvider) Store(_ context.Context, key string) (SchemaStore, error) {
	return p.get(key)
}

func (p *memoryStoreProvider) Seed(ctx context.Context, key string, ir *models.SchemaIR) error {
	s, err := p.get(key)
	if err != nil {
		return err
	}
	return s.Seed(ctx, ir)
}

// NewPostgresStoreProvider hands out PostgreSQL stores sharing one pool.
func NewPostgresStoreProvider(db *database.DB) StoreProvider {
	return &postgresStoreProvider{db: db}
}

type postgresStoreProvider struct {
	db *database.DB
}

func (p *postgresStoreProvider) Store(_ context.Context, key string) (SchemaStore, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "store key is required")
	}
	return NewPostgresSchemaStore(p.db, key), nil
}

func (p *postgresStoreProvider) Seed(ctx context.Context, key string, ir *models.SchemaIR) error {
	s, err := p.Store(ctx, key)
	if err != nil {
		return err
	}
	return s.(*PostgresSchemaStore).Seed(ctx, ir)
}
