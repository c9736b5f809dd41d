package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/retry"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/sql"
)

// DefaultDiscoveryConcurrency bounds concurrent per-table column queries.
const DefaultDiscoveryConcurrency = 4

// DiscoveryOptions select what BuildFromDiscoverer reads.
type DiscoveryOptions struct {
	SourceName string
	// Schema restricts discovery to one database schema; empty means all.
	Schema string
	// Table restricts discovery to one table.
	Table string
	// Query, when set, describes a single entity from a SELECT's result columns.
	Query string
	// QueryEntity names the entity built from Query.
	QueryEntity string
	Concurrency int
	Retry       *retry.Config
}

// DiscoveryOptionsFromRequest reads schema, table, query and entity from the
// request config, validating identifiers and the query.
func DiscoveryOptionsFromRequest(req Request) (DiscoveryOptions, error) {
	opts := DiscoveryOptions{
		SourceName:  req.SourceName(),
		Schema:      strings.TrimSpace(req.String("schema")),
		Table:       strings.TrimSpace(req.String("table")),
		QueryEntity: strings.TrimSpace(req.String("entity")),
	}
	if err := sql.CheckIdentifiers(map[string]string{
		"schema": opts.Schema,
		"table":  opts.Table,
		"entity": opts.QueryEntity,
	}); err != nil {
		return opts, err
	}
	if q := req.String("query"); strings.TrimSpace(q) != "" {
		normalized, err := sql.ValidateDescribeQuery(q)
		if err != nil {
			return opts, err
		}
		opts.Query = normalized
		if opts.QueryEntity == "" {
			opts.QueryEntity = opts.Table
		}
		if opts.QueryEntity == "" {
			opts.QueryEntity = "query"
		}
	}
	concurrency, err := req.Int("concurrency", DefaultDiscoveryConcurrency)
	if err != nil {
		return opts, err
	}
	opts.Concurrency = concurrency
	return opts, nil
}

// BuildFromDiscoverer reads tables and columns through d and assembles a
// SchemaIR. Column discovery runs concurrently, bounded by opts.Concurrency.
// Entities are named by table; tables from more than one schema are
// qualified as schema.table.
func BuildFromDiscoverer(ctx context.Context, d SchemaDiscoverer, opts DiscoveryOptions, logger *zap.Logger) (*models.SchemaIR, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}

	if opts.Query != "" {
		columns, err := retry.DoIfRetryableWithResult(ctx, opts.Retry, func() ([]ColumnMetadata, error) {
			return d.DescribeQuery(ctx, opts.Query)
		})
		if err != nil {
			return nil, fmt.Errorf("describe query: %w", err)
		}
		entity := entityFromColumns(opts.QueryEntity, columns, d.MapType)
		return models.NewSchemaIR(opts.SourceName, models.SourceTypeDB, models.CurrentIRVersion, []models.Entity{entity})
	}

	tables, err := retry.DoIfRetryableWithResult(ctx, opts.Retry, func() ([]TableMetadata, error) {
		return d.DiscoverTables(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}
	tables = filterTables(tables, opts.Schema, opts.Table)
	if opts.Table != "" && len(tables) == 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "table %q not found", opts.Table)
	}

	qualify := spansSchemas(tables)
	entities := make([]models.Entity, len(tables))

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultDiscoveryConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, t := range tables {
		g.Go(func() error {
			columns, err := retry.DoIfRetryableWithResult(gctx, opts.Retry, func() ([]ColumnMetadata, error) {
				return d.DiscoverColumns(gctx, t.SchemaName, t.TableName)
			})
			if err != nil {
				return fmt.Errorf("discover columns of %s.%s: %w", t.SchemaName, t.TableName, err)
			}
			entities[i] = entityFromColumns(t.EntityName(qualify), columns, d.MapType)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })

	logger.Debug("Discovered schema",
		zap.String("source_name", opts.SourceName),
		zap.Int("entities", len(entities)))

	return models.NewSchemaIR(opts.SourceName, models.SourceTypeDB, models.CurrentIRVersion, entities)
}

func filterTables(tables []TableMetadata, schema, table string) []TableMetadata {
	if schema == "" && table == "" {
		return tables
	}
	out := tables[:0:0]
	for _, t := range tables {
		if schema != "" && !strings.EqualFold(t.SchemaName, schema) {
			continue
		}
		if table != "" && !strings.EqualFold(t.TableName, table) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func spansSchemas(tables []TableMetadata) bool {
	for _, t := range tables {
		if t.SchemaName != tables[0].SchemaName {
			return true
		}
	}
	return false
}

func entityFromColumns(name string, columns []ColumnMetadata, mapType func(string) models.TypeTag) models.Entity {
	sorted := append([]ColumnMetadata(nil), columns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrdinalPosition < sorted[j].OrdinalPosition })

	entity := models.Entity{Name: name, Fields: make([]models.Field, 0, len(sorted))}
	for _, c := range sorted {
		entity.Fields = append(entity.Fields, c.Field(mapType))
	}
	return entity
}
