package models

import "strings"

// TypeTag is a canonical, source-agnostic type name.
type TypeTag string

const (
	TypeInteger   TypeTag = "integer"
	TypeFloat     TypeTag = "float"
	TypeDecimal   TypeTag = "decimal"
	TypeString    TypeTag = "string"
	TypeBoolean   TypeTag = "boolean"
	TypeDate      TypeTag = "date"
	TypeTimestamp TypeTag = "timestamp"
	TypeTime      TypeTag = "time"
	TypeUUID      TypeTag = "uuid"
	TypeJSON      TypeTag = "json"
	TypeBinary    TypeTag = "binary"
	TypeUnknown   TypeTag = "unknown"
)

// TypeFamily groups tags that convert between each other without loss of meaning.
type TypeFamily string

const (
	FamilyNone     TypeFamily = ""
	FamilyNumeric  TypeFamily = "numeric"
	FamilyText     TypeFamily = "text"
	FamilyTemporal TypeFamily = "temporal"
)

var typeAliases = map[string]TypeTag{
	"int":         TypeInteger,
	"int2":        TypeInteger,
	"int4":        TypeInteger,
	"int8":        TypeInteger,
	"bigint":      TypeInteger,
	"smallint":    TypeInteger,
	"long":        TypeInteger,
	"double":      TypeFloat,
	"real":        TypeFloat,
	"number":      TypeFloat,
	"numeric":     TypeDecimal,
	"money":       TypeDecimal,
	"text":        TypeString,
	"varchar":     TypeString,
	"char":        TypeString,
	"str":         TypeString,
	"bool":        TypeBoolean,
	"datetime":    TypeTimestamp,
	"timestamptz": TypeTimestamp,
	"object":      TypeJSON,
	"jsonb":       TypeJSON,
	"bytes":       TypeBinary,
	"blob":        TypeBinary,
}

// ParseTypeTag normalizes a declared type. Canonical tags and common aliases
// map to their canonical form; anything else is kept lowercased.
func ParseTypeTag(s string) TypeTag {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return TypeUnknown
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return TypeTag(t)
}

// Canonical reports whether t is one of the canonical tags.
func (t TypeTag) Canonical() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeDecimal, TypeString, TypeBoolean, TypeDate,
		TypeTimestamp, TypeTime, TypeUUID, TypeJSON, TypeBinary, TypeUnknown:
		return true
	}
	return false
}

func (t TypeTag) Family() TypeFamily {
	switch t {
	case TypeInteger, TypeFloat, TypeDecimal:
		return FamilyNumeric
	case TypeString, TypeUUID:
		return FamilyText
	case TypeDate, TypeTimestamp, TypeTime:
		return FamilyTemporal
	}
	return FamilyNone
}

// width orders tags inside a family; a wider tag holds every value of a narrower one.
func (t TypeTag) width() int {
	switch t {
	case TypeInteger, TypeUUID, TypeTime, TypeDate:
		return 0
	case TypeDecimal, TypeTimestamp, TypeString:
		return 1
	case TypeFloat:
		return 2
	}
	return 0
}

// TypeCompatibility scores how interchangeable two tags are: 1 when equal,
// 0.5 inside one family, 0 otherwise.
func TypeCompatibility(a, b TypeTag) float64 {
	if a == b {
		return 1
	}
	if fa := a.Family(); fa != FamilyNone && fa == b.Family() {
		return 0.5
	}
	return 0
}

// WiderType returns the wider of two tags from one family. ok is false when
// the tags do not share a family.
func WiderType(a, b TypeTag) (TypeTag, bool) {
	if a == b {
		return a, true
	}
	if fa := a.Family(); fa == FamilyNone || fa != b.Family() {
		return "", false
	}
	// time and date do not widen into each other; timestamp covers both.
	if (a == TypeTime && b == TypeDate) || (a == TypeDate && b == TypeTime) {
		return TypeTimestamp, true
	}
	if b.width() > a.width() {
		return b, true
	}
	return a, true
}
