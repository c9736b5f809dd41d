package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// Source builds a SchemaIR from one data source.
// Each implementation owns its resources and must be closed when done.
type Source interface {
	// BuildIR reads the source and returns its canonical snapshot.
	BuildIR(ctx context.Context) (*models.SchemaIR, error)

	// Close releases connections or file handles held by the source.
	Close() error
}

// SchemaDiscoverer discovers relational schema from a live database.
// Each implementation owns its connection and must be closed when done.
type SchemaDiscoverer interface {
	// DiscoverTables returns user tables (excludes system schemas).
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	// DescribeQuery returns the result columns of a single SELECT without
	// reading any rows.
	DescribeQuery(ctx context.Context, query string) ([]ColumnMetadata, error)

	// MapType maps a native type name to its canonical tag.
	MapType(native string) models.TypeTag

	// Close releases the database connection.
	Close() error
}

// ConnectionTester tests database connectivity.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	TestConnection(ctx context.Context) error
}
