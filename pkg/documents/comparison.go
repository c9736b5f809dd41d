package documents

import (
	"encoding/json"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// ComparisonVersion is the comparison document format version.
const ComparisonVersion = "1.0.0"

type ComparisonDocument struct {
	Version    string                `json:"version"`
	SourceA    string                `json:"source_a"`
	SourceB    string                `json:"source_b"`
	IRVersion  string                `json:"ir_version"`
	Config     CompareConfigDocument `json:"config"`
	Changes    ChangesDocument       `json:"changes"`
	Matches    []MatchDocument       `json:"matches,omitempty"`
	Statistics StatisticsDocument    `json:"statistics"`
}

type CompareConfigDocument struct {
	Threshold       float64  `json:"threshold"`
	Strategy        string   `json:"strategy"`
	IgnoreFields    []string `json:"ignore_fields,omitempty"`
	CaseInsensitive bool     `json:"case_insensitive,omitempty"`
}

type ChangesDocument struct {
	Added    []ChangeDocument       `json:"added"`
	Removed  []ChangeDocument       `json:"removed"`
	Modified []ModificationDocument `json:"modified"`
}

type ChangeDocument struct {
	Path      string          `json:"path"`
	Scope     string          `json:"scope"`
	Entity    string          `json:"entity"`
	Field     string          `json:"field,omitempty"`
	EntityDef *EntityDocument `json:"entity_def,omitempty"`
	FieldDef  *FieldDocument  `json:"field_def,omitempty"`
}

type ModificationDocument struct {
	Path       string              `json:"path"`
	NewPath    string              `json:"new_path,omitempty"`
	Scope      string              `json:"scope"`
	Entity     string              `json:"entity"`
	NewEntity  string              `json:"new_entity,omitempty"`
	Field      string              `json:"field,omitempty"`
	NewField   string              `json:"new_field,omitempty"`
	Attributes []AttributeDocument `json:"attributes"`
	Before     *FieldDocument      `json:"before,omitempty"`
	After      *FieldDocument      `json:"after,omitempty"`
	Score      float64             `json:"score"`
}

type AttributeDocument struct {
	Attribute string `json:"attribute"`
	Old       any    `json:"old"`
	New       any    `json:"new"`
}

type MatchDocument struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

type StatisticsDocument struct {
	Similarity      float64 `json:"similarity"`
	ComparedItems   int     `json:"compared_items"`
	ChangedItems    int     `json:"changed_items"`
	Added           int     `json:"added"`
	Removed         int     `json:"removed"`
	Modified        int     `json:"modified"`
	EntitiesA       int     `json:"entities_a"`
	EntitiesB       int     `json:"entities_b"`
	MatchedEntities int     `json:"matched_entities"`
}

// FromComparison converts a result to its document.
func FromComparison(r *models.ComparisonResult) *ComparisonDocument {
	doc := &ComparisonDocument{
		Version:   ComparisonVersion,
		SourceA:   r.SourceA,
		SourceB:   r.SourceB,
		IRVersion: r.IRVersion,
		Config: CompareConfigDocument{
			Threshold:       r.Config.Threshold,
			Strategy:        string(r.Config.Strategy),
			IgnoreFields:    r.Config.IgnoreFields,
			CaseInsensitive: r.Config.CaseInsensitive,
		},
		Changes: ChangesDocument{
			Added:    make([]ChangeDocument, 0, len(r.Changes.Added)),
			Removed:  make([]ChangeDocument, 0, len(r.Changes.Removed)),
			Modified: make([]ModificationDocument, 0, len(r.Changes.Modified)),
		},
		Statistics: StatisticsDocument{
			Similarity:      r.Statistics.Similarity,
			ComparedItems:   r.Statistics.ComparedItems,
			ChangedItems:    r.Statistics.ChangedItems,
			Added:           len(r.Changes.Added),
			Removed:         len(r.Changes.Removed),
			Modified:        len(r.Changes.Modified),
			EntitiesA:       r.Statistics.EntitiesA,
			EntitiesB:       r.Statistics.EntitiesB,
			MatchedEntities: r.Statistics.MatchedEntities,
		},
	}
	for _, c := range r.Changes.Added {
		doc.Changes.Added = append(doc.Changes.Added, fromChange(c))
	}
	for _, c := range r.Changes.Removed {
		doc.Changes.Removed = append(doc.Changes.Removed, fromChange(c))
	}
	for _, m := range r.Changes.Modified {
		md := ModificationDocument{
			Path:       m.Path,
			NewPath:    m.NewPath,
			Scope:      string(m.Scope),
			Entity:     m.Entity,
			NewEntity:  m.NewEntity,
			Field:      m.Field,
			NewField:   m.NewField,
			Attributes: make([]AttributeDocument, 0, len(m.Attributes)),
			Before:     fieldDocPtr(m.Before),
			After:      fieldDocPtr(m.After),
			Score:      m.Score,
		}
		for _, a := range m.Attributes {
			md.Attributes = append(md.Attributes, AttributeDocument{Attribute: a.Attribute, Old: a.Old, New: a.New})
		}
		doc.Changes.Modified = append(doc.Changes.Modified, md)
	}
	for _, m := range r.Matches {
		doc.Matches = append(doc.Matches, MatchDocument{A: m.A, B: m.B, Score: m.Score})
	}
	return doc
}

func fromChange(c models.Change) ChangeDocument {
	return ChangeDocument{
		Path:      c.Path,
		Scope:     string(c.Scope),
		Entity:    c.Entity,
		Field:     c.Field,
		EntityDef: entityDocPtr(c.EntityDef),
		FieldDef:  fieldDocPtr(c.FieldDef),
	}
}

// ToModel converts the document back to a result, validating enum fields.
func (d *ComparisonDocument) ToModel() (*models.ComparisonResult, error) {
	strategy, err := models.ParseCompareStrategy(d.Config.Strategy)
	if err != nil {
		return nil, err
	}
	r := &models.ComparisonResult{
		SourceA:   d.SourceA,
		SourceB:   d.SourceB,
		IRVersion: d.IRVersion,
		Config: models.CompareConfig{
			Threshold:       d.Config.Threshold,
			Strategy:        strategy,
			IgnoreFields:    d.Config.IgnoreFields,
			CaseInsensitive: d.Config.CaseInsensitive,
		},
		Statistics: models.ComparisonStatistics{
			Similarity:      d.Statistics.Similarity,
			ComparedItems:   d.Statistics.ComparedItems,
			ChangedItems:    d.Statistics.ChangedItems,
			EntitiesA:       d.Statistics.EntitiesA,
			EntitiesB:       d.Statistics.EntitiesB,
			MatchedEntities: d.Statistics.MatchedEntities,
		},
	}
	if r.Statistics.Similarity < 0 || r.Statistics.Similarity > 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "similarity %v out of range", r.Statistics.Similarity)
	}

	for _, c := range d.Changes.Added {
		mc, err := c.toModel()
		if err != nil {
			return nil, err
		}
		r.Changes.Added = append(r.Changes.Added, mc)
	}
	for _, c := range d.Changes.Removed {
		mc, err := c.toModel()
		if err != nil {
			return nil, err
		}
		r.Changes.Removed = append(r.Changes.Removed, mc)
	}
	for _, m := range d.Changes.Modified {
		scope, err := parseScope(m.Scope)
		if err != nil {
			return nil, err
		}
		if scope == models.ScopeField && (m.Before == nil || m.After == nil) {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "modification %q is missing before/after", m.Path)
		}
		mm := models.Modification{
			Path:      m.Path,
			NewPath:   m.NewPath,
			Scope:     scope,
			Entity:    m.Entity,
			NewEntity: m.NewEntity,
			Field:     m.Field,
			NewField:  m.NewField,
			Before:    fieldPtr(m.Before),
			After:     fieldPtr(m.After),
			Score:     m.Score,
		}
		if mm.NewPath == "" {
			mm.NewPath = mm.Path
		}
		if mm.NewEntity == "" {
			mm.NewEntity = mm.Entity
		}
		if mm.NewField == "" {
			mm.NewField = mm.Field
		}
		for _, a := range m.Attributes {
			mm.Attributes = append(mm.Attributes, models.AttributeChange{Attribute: a.Attribute, Old: a.Old, New: a.New})
		}
		r.Changes.Modified = append(r.Changes.Modified, mm)
	}
	for _, m := range d.Matches {
		r.Matches = append(r.Matches, models.EntityMatch{A: m.A, B: m.B, Score: m.Score})
	}
	return r, nil
}

func (c ChangeDocument) toModel() (models.Change, error) {
	scope, err := parseScope(c.Scope)
	if err != nil {
		return models.Change{}, err
	}
	if c.Path == "" || c.Entity == "" {
		return models.Change{}, apperrors.New(apperrors.CodeInvalidInput, "change is missing path or entity")
	}
	return models.Change{
		Path:      c.Path,
		Scope:     scope,
		Entity:    c.Entity,
		Field:     c.Field,
		EntityDef: entityPtr(c.EntityDef),
		FieldDef:  fieldPtr(c.FieldDef),
	}, nil
}

func parseScope(s string) (models.ChangeScope, error) {
	switch models.ChangeScope(s) {
	case models.ScopeEntity:
		return models.ScopeEntity, nil
	case models.ScopeField:
		return models.ScopeField, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown change scope %q", s)
}

// MarshalComparison renders a comparison document.
func MarshalComparison(r *models.ComparisonResult) ([]byte, error) {
	return marshal(FromComparison(r))
}

// ParseComparison decodes a comparison document.
func ParseComparison(data []byte) (*models.ComparisonResult, error) {
	var doc ComparisonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJSON, "decode comparison document", err)
	}
	return doc.ToModel()
}
