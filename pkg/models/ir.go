package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// CurrentIRVersion is the IR format version produced by this build.
const CurrentIRVersion = "1.0.0"

// SourceType is the origin kind of a schema snapshot.
type SourceType string

const (
	SourceTypeFile   SourceType = "file"
	SourceTypeDB     SourceType = "db"
	SourceTypeMemory SourceType = "memory"
)

// Known reports whether t is one of the source types ingestion can build.
func (t SourceType) Known() bool {
	switch t {
	case SourceTypeFile, SourceTypeDB, SourceTypeMemory:
		return true
	}
	return false
}

// ParseSourceType maps a build_ir source type to its enum value.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Known() {
		return "", apperrors.Newf(apperrors.CodeUnsupportedSource, "unsupported source type %q", s)
	}
	return t, nil
}

// Field is one attribute of an entity.
type Field struct {
	Name         string
	DeclaredType TypeTag
	Nullable     bool
	Default      *string
	IsPrimaryKey bool
	// NativeType is the source-native type string. Informational only; never compared.
	NativeType string
}

// Equal compares every attribute that participates in diffs.
func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Attributes().Equal(o.Attributes())
}

// Attributes returns the comparable attribute set of f.
func (f Field) Attributes() FieldAttributes {
	return FieldAttributes{
		DeclaredType: f.DeclaredType,
		Nullable:     f.Nullable,
		Default:      f.Default,
		IsPrimaryKey: f.IsPrimaryKey,
	}
}

// FieldAttributes are the attributes of a field excluding its name.
type FieldAttributes struct {
	DeclaredType TypeTag
	Nullable     bool
	Default      *string
	IsPrimaryKey bool
}

func (a FieldAttributes) Equal(o FieldAttributes) bool {
	return a.DeclaredType == o.DeclaredType &&
		a.Nullable == o.Nullable &&
		a.IsPrimaryKey == o.IsPrimaryKey &&
		equalDefault(a.Default, o.Default)
}

func equalDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Entity is one logical record type: a table, collection or object kind.
type Entity struct {
	Name   string
	Fields []Field
}

// Field returns the field named name.
func (e *Entity) Field(name string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	out := Entity{Name: e.Name, Fields: make([]Field, len(e.Fields))}
	for i, f := range e.Fields {
		out.Fields[i] = f.Clone()
	}
	return out
}

// Equal is order-insensitive on fields.
func (e Entity) Equal(o Entity) bool {
	if e.Name != o.Name || len(e.Fields) != len(o.Fields) {
		return false
	}
	for _, f := range e.Fields {
		of, ok := o.Field(f.Name)
		if !ok || !f.Equal(*of) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	out := f
	if f.Default != nil {
		d := *f.Default
		out.Default = &d
	}
	return out
}

// SchemaIR is the canonical snapshot of one data source. Values are treated as
// immutable once built; every stage produces new values instead of editing inputs.
type SchemaIR struct {
	SourceName string
	SourceType SourceType
	IRVersion  string
	Entities   []Entity
}

// NewSchemaIR builds a SchemaIR and enforces the construction invariants:
// parseable ir_version, unique entity names, unique field names per entity.
func NewSchemaIR(sourceName string, sourceType SourceType, irVersion string, entities []Entity) (*SchemaIR, error) {
	if strings.TrimSpace(irVersion) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "ir_version is required")
	}
	if _, err := semver.NewVersion(irVersion); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("invalid ir_version %q", irVersion), err)
	}

	seen := make(map[string]struct{}, len(entities))
	cloned := make([]Entity, len(entities))
	for i, e := range entities {
		if _, dup := seen[e.Name]; dup {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "duplicate entity_name %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		fields := make(map[string]struct{}, len(e.Fields))
		for _, f := range e.Fields {
			if _, dup := fields[f.Name]; dup {
				return nil, apperrors.Newf(apperrors.CodeInvalidInput, "duplicate field %q in entity %q", f.Name, e.Name)
			}
			fields[f.Name] = struct{}{}
		}
		cloned[i] = e.Clone()
	}

	return &SchemaIR{
		SourceName: sourceName,
		SourceType: sourceType,
		IRVersion:  irVersion,
		Entities:   cloned,
	}, nil
}

// Version parses IRVersion.
func (s *SchemaIR) Version() (*semver.Version, error) {
	if s.IRVersion == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "ir_version is required")
	}
	v, err := semver.NewVersion(s.IRVersion)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("invalid ir_version %q", s.IRVersion), err)
	}
	return v, nil
}

// Entity returns the entity named name.
func (s *SchemaIR) Entity(name string) (*Entity, bool) {
	for i := range s.Entities {
		if s.Entities[i].Name == name {
			return &s.Entities[i], true
		}
	}
	return nil, false
}

// EntityNames returns entity names sorted ascending.
func (s *SchemaIR) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of s.
func (s *SchemaIR) Clone() *SchemaIR {
	out := &SchemaIR{
		SourceName: s.SourceName,
		SourceType: s.SourceType,
		IRVersion:  s.IRVersion,
		Entities:   make([]Entity, len(s.Entities)),
	}
	for i, e := range s.Entities {
		out.Entities[i] = e.Clone()
	}
	return out
}

// Equal is structural and order-insensitive on entities and fields.
// Source labels are not part of structural identity.
func (s *SchemaIR) Equal(o *SchemaIR) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.IRVersion != o.IRVersion || len(s.Entities) != len(o.Entities) {
		return false
	}
	for _, e := range s.Entities {
		oe, ok := o.Entity(e.Name)
		if !ok || !e.Equal(*oe) {
			return false
		}
	}
	return true
}

// CompatibleVersions reports whether a and b share an ir_version major.
func CompatibleVersions(a, b *SchemaIR) error {
	va, err := a.Version()
	if err != nil {
		return fmt.Errorf("schema %q: %w", a.SourceName, err)
	}
	vb, err := b.Version()
	if err != nil {
		return fmt.Errorf("schema %q: %w", b.SourceName, err)
	}
	if va.Major() != vb.Major() {
		return apperrors.Newf(apperrors.CodeInvalidInput,
			"incompatible ir_version majors: %s vs %s", va.Original(), vb.Original())
	}
	return nil
}
