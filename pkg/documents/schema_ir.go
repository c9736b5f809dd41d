// Package documents defines the versioned JSON documents exchanged at every
// boundary and converts them to and from the in-process values in pkg/models.
package documents

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// SchemaIRDocument is the wire form of a SchemaIR. The yaml and toml tags let
// schema declaration files share the same layout.
type SchemaIRDocument struct {
	SourceName string           `json:"source_name" yaml:"source_name" toml:"source_name"`
	SourceType string           `json:"source_type" yaml:"source_type" toml:"source_type"`
	IRVersion  string           `json:"ir_version" yaml:"ir_version" toml:"ir_version"`
	Entities   []EntityDocument `json:"entities" yaml:"entities" toml:"entities"`
}

// EntityDocument accepts "name" as an alias of "entity_name" on input.
type EntityDocument struct {
	EntityName string          `json:"entity_name" yaml:"entity_name" toml:"entity_name"`
	Fields     []FieldDocument `json:"fields" yaml:"fields" toml:"fields"`
}

// FieldDocument accepts "type" as an alias of "declared_type" and non-string
// defaults on input.
type FieldDocument struct {
	Name         string  `json:"name" yaml:"name" toml:"name"`
	DeclaredType string  `json:"declared_type" yaml:"declared_type" toml:"declared_type"`
	Nullable     bool    `json:"nullable" yaml:"nullable" toml:"nullable"`
	Default      *string `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key,omitempty" yaml:"is_primary_key,omitempty" toml:"is_primary_key,omitempty"`
	NativeType   string  `json:"native_type,omitempty" yaml:"native_type,omitempty" toml:"native_type,omitempty"`
}

func (d *EntityDocument) UnmarshalJSON(data []byte) error {
	var raw struct {
		EntityName string          `json:"entity_name"`
		Name       string          `json:"name"`
		Fields     []FieldDocument `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.EntityName = raw.EntityName
	if d.EntityName == "" {
		d.EntityName = raw.Name
	}
	d.Fields = raw.Fields
	return nil
}

func (d *FieldDocument) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string          `json:"name"`
		DeclaredType string          `json:"declared_type"`
		Type         string          `json:"type"`
		Nullable     bool            `json:"nullable"`
		Default      json.RawMessage `json:"default"`
		IsPrimaryKey bool            `json:"is_primary_key"`
		NativeType   string          `json:"native_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Name = raw.Name
	d.DeclaredType = raw.DeclaredType
	if d.DeclaredType == "" {
		d.DeclaredType = raw.Type
	}
	d.Nullable = raw.Nullable
	d.IsPrimaryKey = raw.IsPrimaryKey
	d.NativeType = raw.NativeType
	d.Default = nil
	if len(raw.Default) > 0 && string(raw.Default) != "null" {
		v := jsonutil.FlexibleStringValue(raw.Default)
		d.Default = &v
	}
	return nil
}

// DecodeSchemaIRDocument decodes JSON without checking IR invariants.
func DecodeSchemaIRDocument(data []byte) (*SchemaIRDocument, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "schema document is empty")
	}
	var doc SchemaIRDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJSON, "decode schema document", err)
	}
	return &doc, nil
}

// ParseSchemaIR decodes a SchemaIR document and enforces IR invariants.
func ParseSchemaIR(data []byte) (*models.SchemaIR, error) {
	doc, err := DecodeSchemaIRDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.ToModel()
}

// DecodeSchemaIR decodes a SchemaIR document leniently: invariant violations
// are left for the validator to report.
func DecodeSchemaIR(data []byte) (*models.SchemaIR, error) {
	doc, err := DecodeSchemaIRDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.toModelUnchecked(), nil
}

// ToModel converts the document through models.NewSchemaIR.
func (d *SchemaIRDocument) ToModel() (*models.SchemaIR, error) {
	raw := d.toModelUnchecked()
	ir, err := models.NewSchemaIR(raw.SourceName, raw.SourceType, raw.IRVersion, raw.Entities)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", d.SourceName, err)
	}
	return ir, nil
}

func (d *SchemaIRDocument) toModelUnchecked() *models.SchemaIR {
	ir := &models.SchemaIR{
		SourceName: d.SourceName,
		SourceType: models.SourceType(d.SourceType),
		IRVersion:  d.IRVersion,
		Entities:   make([]models.Entity, 0, len(d.Entities)),
	}
	for _, e := range d.Entities {
		ir.Entities = append(ir.Entities, e.ToModel())
	}
	return ir
}

// ToModel converts an entity document.
func (d EntityDocument) ToModel() models.Entity {
	e := models.Entity{Name: d.EntityName, Fields: make([]models.Field, 0, len(d.Fields))}
	for _, f := range d.Fields {
		e.Fields = append(e.Fields, f.ToModel())
	}
	return e
}

// ToModel converts a field document, normalizing the declared type.
func (d FieldDocument) ToModel() models.Field {
	f := models.Field{
		Name:         d.Name,
		DeclaredType: models.ParseTypeTag(d.DeclaredType),
		Nullable:     d.Nullable,
		IsPrimaryKey: d.IsPrimaryKey,
		NativeType:   d.NativeType,
	}
	if d.Default != nil {
		v := *d.Default
		f.Default = &v
	}
	return f
}

// FromSchemaIR converts a SchemaIR to its document.
func FromSchemaIR(ir *models.SchemaIR) *SchemaIRDocument {
	doc := &SchemaIRDocument{
		SourceName: ir.SourceName,
		SourceType: string(ir.SourceType),
		IRVersion:  ir.IRVersion,
		Entities:   make([]EntityDocument, 0, len(ir.Entities)),
	}
	for _, e := range ir.Entities {
		doc.Entities = append(doc.Entities, FromEntity(e))
	}
	return doc
}

// FromEntity converts an entity.
func FromEntity(e models.Entity) EntityDocument {
	doc := EntityDocument{EntityName: e.Name, Fields: make([]FieldDocument, 0, len(e.Fields))}
	for _, f := range e.Fields {
		doc.Fields = append(doc.Fields, FromField(f))
	}
	return doc
}

// FromField converts a field.
func FromField(f models.Field) FieldDocument {
	doc := FieldDocument{
		Name:         f.Name,
		DeclaredType: string(f.DeclaredType),
		Nullable:     f.Nullable,
		IsPrimaryKey: f.IsPrimaryKey,
		NativeType:   f.NativeType,
	}
	if f.Default != nil {
		v := *f.Default
		doc.Default = &v
	}
	return doc
}

// MarshalSchemaIR renders a SchemaIR document.
func MarshalSchemaIR(ir *models.SchemaIR) ([]byte, error) {
	return marshal(FromSchemaIR(ir))
}

func marshal(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "encode document", err)
	}
	return out, nil
}

func entityPtr(d *EntityDocument) *models.Entity {
	if d == nil {
		return nil
	}
	e := d.ToModel()
	return &e
}

func fieldPtr(d *FieldDocument) *models.Field {
	if d == nil {
		return nil
	}
	f := d.ToModel()
	return &f
}

func entityDocPtr(e *models.Entity) *EntityDocument {
	if e == nil {
		return nil
	}
	d := FromEntity(*e)
	return &d
}

func fieldDocPtr(f *models.Field) *FieldDocument {
	if f == nil {
		return nil
	}
	d := FromField(*f)
	return &d
}
