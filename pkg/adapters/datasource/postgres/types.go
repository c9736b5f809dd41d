package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// MapType maps a PostgreSQL type name (information_schema data_type or
// pg_type typname) to its canonical tag. Unrecognized types map to unknown.
func MapType(native string) models.TypeTag {
	t := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "smallint", "integer", "bigint", "int2", "int4", "int8", "smallserial", "serial", "bigserial", "oid":
		return models.TypeInteger
	case "real", "double precision", "float4", "float8":
		return models.TypeFloat
	case "numeric", "decimal", "money":
		return models.TypeDecimal
	case "text", "character varying", "varchar", "character", "char", "bpchar", "name", "citext", "inet", "cidr", "macaddr":
		return models.TypeString
	case "boolean", "bool":
		return models.TypeBoolean
	case "date":
		return models.TypeDate
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz":
		return models.TypeTimestamp
	case "time", "time without time zone", "time with time zone", "timetz":
		return models.TypeTime
	case "uuid":
		return models.TypeUUID
	case "json", "jsonb", "array", "hstore":
		return models.TypeJSON
	case "bytea":
		return models.TypeBinary
	}
	if strings.HasPrefix(t, "_") {
		return models.TypeJSON
	}
	return models.TypeUnknown
}

// typeNameForOID resolves a result column type OID to its pg_type name.
func typeNameForOID(m *pgtype.Map, oid uint32) string {
	if t, ok := m.TypeForOID(oid); ok {
		return t.Name
	}
	return "unknown"
}
