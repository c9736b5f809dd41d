package mssql

import (
	"strings"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// MapType maps a SQL Server type name to its canonical tag. Length and
// precision suffixes are ignored; unrecognized types map to unknown.
func MapType(native string) models.TypeTag {
	t := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "tinyint", "smallint", "int", "bigint":
		return models.TypeInteger
	case "real", "float":
		return models.TypeFloat
	case "decimal", "numeric", "money", "smallmoney":
		return models.TypeDecimal
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext", "sysname":
		return models.TypeString
	case "bit":
		return models.TypeBoolean
	case "date":
		return models.TypeDate
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return models.TypeTimestamp
	case "time":
		return models.TypeTime
	case "uniqueidentifier":
		return models.TypeUUID
	case "json", "xml":
		return models.TypeJSON
	case "binary", "varbinary", "image", "rowversion", "timestamp":
		return models.TypeBinary
	default:
		return models.TypeUnknown
	}
}

// trimDefaultParens removes the parentheses SQL Server wraps around default
// constraint definitions: "((0))" becomes "0".
func trimDefaultParens(def string) string {
	s := strings.TrimSpace(def)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
