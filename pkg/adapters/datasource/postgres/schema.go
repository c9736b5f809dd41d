package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/retry"
)

// SchemaDiscoverer provides PostgreSQL schema discovery.
type SchemaDiscoverer struct {
	pool      *pgxpool.Pool
	database  string
	ownedPool bool // true if we created the pool
	logger    *zap.Logger
}

// NewSchemaDiscoverer connects to PostgreSQL and returns a discoverer that
// owns the pool. If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := connect(ctx, cfg, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &SchemaDiscoverer{
		pool:      pool,
		database:  cfg.Database,
		ownedPool: true,
		logger:    logger,
	}, nil
}

// NewSchemaDiscovererFromPool wraps an existing pool; Close leaves it open.
func NewSchemaDiscovererFromPool(pool *pgxpool.Pool, database string, logger *zap.Logger) *SchemaDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaDiscoverer{pool: pool, database: database, logger: logger}
}

// Close releases the pool if the discoverer created it.
func (d *SchemaDiscoverer) Close() error {
	if d.ownedPool && d.pool != nil {
		d.pool.Close()
	}
	return nil
}

// DiscoverTables returns all user tables (excludes system schemas).
func (d *SchemaDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	const query = `
		SELECT t.table_schema, t.table_name
		FROM information_schema.tables t
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND t.table_schema NOT LIKE 'pg_temp%'
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.SchemaName, &t.TableName); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	d.logger.Debug("Discovered tables", zap.Int("count", len(tables)))
	return tables, nil
}

// DiscoverColumns returns columns for a specific table. pg_index.indisprimary
// detects primary keys even when they were created as unique indexes.
func (d *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			c.column_name,
			CASE WHEN c.data_type = 'USER-DEFINED' THEN c.udt_name
			     WHEN c.data_type = 'ARRAY' THEN 'array'
			     ELSE c.data_type END AS data_type,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			c.ordinal_position,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// DescribeQuery reads result column types from the server without fetching
// rows. Nullability is not reported for query results, so every column is
// treated as nullable.
func (d *SchemaDiscoverer) DescribeQuery(ctx context.Context, query string) ([]datasource.ColumnMetadata, error) {
	wrapped := "SELECT * FROM (" + query + ") AS _q LIMIT 0"
	rows, err := d.pool.Query(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("describe query: %w", err)
	}
	fields := rows.FieldDescriptions()
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe query: %w", err)
	}

	typeMap := pgtype.NewMap()
	columns := make([]datasource.ColumnMetadata, len(fields))
	for i, f := range fields {
		columns[i] = datasource.ColumnMetadata{
			ColumnName:      f.Name,
			DataType:        typeNameForOID(typeMap, f.DataTypeOID),
			IsNullable:      true,
			OrdinalPosition: i + 1,
		}
	}
	return columns, nil
}

// MapType maps a PostgreSQL type name to its canonical tag.
func (d *SchemaDiscoverer) MapType(native string) models.TypeTag {
	return MapType(native)
}

var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
