package datasource

import (
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// TableMetadata identifies a discovered table.
type TableMetadata struct {
	SchemaName string
	TableName  string
}

// EntityName is the table name, qualified as schema.table when discovery
// spans more than one schema.
func (t TableMetadata) EntityName(qualify bool) string {
	if qualify && t.SchemaName != "" {
		return t.SchemaName + "." + t.TableName
	}
	return t.TableName
}

// ColumnMetadata is one column as reported by the database catalog, or one
// result column of a described query.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
	DefaultValue    *string
}

// Field converts the column to an IR field. The catalog type name is kept
// as the native type; mapType supplies the canonical tag.
func (c ColumnMetadata) Field(mapType func(string) models.TypeTag) models.Field {
	return models.Field{
		Name:         c.ColumnName,
		DeclaredType: mapType(c.DataType),
		Nullable:     c.IsNullable,
		Default:      c.DefaultValue,
		IsPrimaryKey: c.IsPrimaryKey,
		NativeType:   c.DataType,
	}
}
