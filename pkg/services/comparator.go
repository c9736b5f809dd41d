package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// ComparatorService computes structured diffs between two schema snapshots.
// It holds no mutable state and is safe for concurrent use.
type ComparatorService interface {
	// Compare diffs a against b. The result is deterministic for fixed inputs.
	Compare(a, b *models.SchemaIR, cfg models.CompareConfig) (*models.ComparisonResult, error)
}

type comparatorService struct {
	logger *zap.Logger
}

// NewComparatorService creates a new ComparatorService.
func NewComparatorService(logger *zap.Logger) ComparatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &comparatorService{logger: logger.Named("comparator")}
}

var _ ComparatorService = (*comparatorService)(nil)

// indexedEntity is an entity with ignored fields removed and its fields keyed
// for matching.
type indexedEntity struct {
	def      models.Entity
	original models.Entity
	key      string
	fields   map[string]int
}

type indexedSchema struct {
	entities []*indexedEntity
	byKey    map[string]*indexedEntity
}

// entityPair is a matched A/B entity pair.
type entityPair struct {
	a, b     *indexedEntity
	score    float64
	semantic bool
}

func (s *comparatorService) Compare(a, b *models.SchemaIR, cfg models.CompareConfig) (*models.ComparisonResult, error) {
	if a == nil || b == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "both schemas are required")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = models.CompareStructural
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "threshold %v must be within [0, 1]", cfg.Threshold)
	}
	if err := models.CompatibleVersions(a, b); err != nil {
		return nil, err
	}

	ignore := newIgnoreSet(cfg)
	ia, err := indexSchema(a, cfg, ignore)
	if err != nil {
		return nil, err
	}
	ib, err := indexSchema(b, cfg, ignore)
	if err != nil {
		return nil, err
	}

	var pairs []entityPair
	switch cfg.Strategy {
	case models.CompareStructural:
		pairs = matchByName(ia, ib)
	case models.CompareSemantic:
		pairs = matchBySimilarity(ia.entities, ib.entities, cfg.Threshold)
	case models.CompareHybrid:
		pairs = matchByName(ia, ib)
		leftA, leftB := unmatched(ia, ib, pairs)
		pairs = append(pairs, matchBySimilarity(leftA, leftB, cfg.Threshold)...)
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown compare strategy %q", cfg.Strategy)
	}

	d := &differ{cfg: cfg}
	for _, p := range pairs {
		d.diffPair(p)
	}
	leftA, leftB := unmatched(ia, ib, pairs)
	for _, e := range leftA {
		d.entityOnlyIn(e, models.ChangeRemoved)
	}
	for _, e := range leftB {
		d.entityOnlyIn(e, models.ChangeAdded)
	}

	result := d.result(a, b, cfg, pairs)

	s.logger.Debug("Schemas compared",
		zap.String("source_a", a.SourceName),
		zap.String("source_b", b.SourceName),
		zap.String("strategy", string(cfg.Strategy)),
		zap.Int("added", len(result.Changes.Added)),
		zap.Int("removed", len(result.Changes.Removed)),
		zap.Int("modified", len(result.Changes.Modified)),
		zap.Float64("similarity", result.Statistics.Similarity),
	)

	return result, nil
}

// ignoreSet holds ignore_fields entries: bare field names apply to every
// entity, "entity.field" entries to one entity.
type ignoreSet struct {
	bare   map[string]struct{}
	scoped map[string]struct{}
	fold   bool
}

func newIgnoreSet(cfg models.CompareConfig) ignoreSet {
	set := ignoreSet{
		bare:   make(map[string]struct{}),
		scoped: make(map[string]struct{}),
		fold:   cfg.CaseInsensitive,
	}
	for _, f := range cfg.IgnoreFields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if set.fold {
			f = strings.ToLower(f)
		}
		if strings.Contains(f, ".") {
			set.scoped[f] = struct{}{}
		} else {
			set.bare[f] = struct{}{}
		}
	}
	return set
}

func (s ignoreSet) ignored(entity, field string) bool {
	if s.fold {
		entity, field = strings.ToLower(entity), strings.ToLower(field)
	}
	if _, ok := s.bare[field]; ok {
		return true
	}
	_, ok := s.scoped[entity+"."+field]
	return ok
}

func nameKey(name string, cfg models.CompareConfig) string {
	if cfg.CaseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func indexSchema(ir *models.SchemaIR, cfg models.CompareConfig, ignore ignoreSet) (*indexedSchema, error) {
	idx := &indexedSchema{byKey: make(map[string]*indexedEntity, len(ir.Entities))}
	for _, e := range ir.Entities {
		ie := &indexedEntity{
			def:      models.Entity{Name: e.Name},
			original: e.Clone(),
			key:      nameKey(e.Name, cfg),
			fields:   make(map[string]int, len(e.Fields)),
		}
		if _, dup := idx.byKey[ie.key]; dup {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput,
				"schema %q: entity %q collides with another entity name", ir.SourceName, e.Name)
		}
		for _, f := range e.Fields {
			if ignore.ignored(e.Name, f.Name) {
				continue
			}
			key := nameKey(f.Name, cfg)
			if _, dup := ie.fields[key]; dup {
				return nil, apperrors.Newf(apperrors.CodeInvalidInput,
					"schema %q: field %q collides with another field of entity %q", ir.SourceName, f.Name, e.Name)
			}
			ie.fields[key] = len(ie.def.Fields)
			ie.def.Fields = append(ie.def.Fields, f.Clone())
		}
		idx.byKey[ie.key] = ie
		idx.entities = append(idx.entities, ie)
	}
	return idx, nil
}

func matchByName(a, b *indexedSchema) []entityPair {
	var pairs []entityPair
	for _, ea := range a.entities {
		if eb, ok := b.byKey[ea.key]; ok {
			pairs = append(pairs, entityPair{a: ea, b: eb, score: 1})
		}
	}
	return pairs
}

// matchBySimilarity greedily pairs the highest-scoring candidates whose score
// clears threshold. Ties prefer equal normalized names, then A name, then B name.
func matchBySimilarity(as, bs []*indexedEntity, threshold float64) []entityPair {
	type candidate struct {
		a, b     *indexedEntity
		score    float64
		sameName bool
	}
	var candidates []candidate
	for _, ea := range as {
		for _, eb := range bs {
			score := entitySimilarity(ea, eb)
			if score < threshold {
				continue
			}
			candidates = append(candidates, candidate{
				a:        ea,
				b:        eb,
				score:    score,
				sameName: normalizeName(ea.def.Name) == normalizeName(eb.def.Name),
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.score != cj.score {
			return ci.score > cj.score
		}
		if ci.sameName != cj.sameName {
			return ci.sameName
		}
		if ci.a.def.Name != cj.a.def.Name {
			return ci.a.def.Name < cj.a.def.Name
		}
		return ci.b.def.Name < cj.b.def.Name
	})

	usedA := make(map[*indexedEntity]bool)
	usedB := make(map[*indexedEntity]bool)
	var pairs []entityPair
	for _, c := range candidates {
		if usedA[c.a] || usedB[c.b] {
			continue
		}
		usedA[c.a], usedB[c.b] = true, true
		pairs = append(pairs, entityPair{a: c.a, b: c.b, score: c.score, semantic: true})
	}
	return pairs
}

func unmatched(a, b *indexedSchema, pairs []entityPair) ([]*indexedEntity, []*indexedEntity) {
	usedA := make(map[*indexedEntity]bool, len(pairs))
	usedB := make(map[*indexedEntity]bool, len(pairs))
	for _, p := range pairs {
		usedA[p.a], usedB[p.b] = true, true
	}
	var leftA, leftB []*indexedEntity
	for _, e := range a.entities {
		if !usedA[e] {
			leftA = append(leftA, e)
		}
	}
	for _, e := range b.entities {
		if !usedB[e] {
			leftB = append(leftB, e)
		}
	}
	return leftA, leftB
}

// differ accumulates changes and the item counts behind the similarity score.
// Every compared slot is one field, or one entity when it has no fields, or
// one entity rename.
type differ struct {
	cfg      models.CompareConfig
	changes  models.Changes
	compared int
	changed  int
}

func path(entity, field string) string {
	if field == "" {
		return entity
	}
	return entity + "." + field
}

func (d *differ) entityOnlyIn(e *indexedEntity, kind models.ChangeKind) {
	def := e.original.Clone()
	c := models.Change{
		Path:      e.def.Name,
		Scope:     models.ScopeEntity,
		Entity:    e.def.Name,
		EntityDef: &def,
	}
	if kind == models.ChangeAdded {
		d.changes.Added = append(d.changes.Added, c)
	} else {
		d.changes.Removed = append(d.changes.Removed, c)
	}
	slots := max(1, len(e.def.Fields))
	d.compared += slots
	d.changed += slots
}

func (d *differ) diffPair(p entityPair) {
	ea, eb := p.a, p.b
	if ea.def.Name != eb.def.Name {
		d.changes.Modified = append(d.changes.Modified, models.Modification{
			Path:      ea.def.Name,
			NewPath:   eb.def.Name,
			Scope:     models.ScopeEntity,
			Entity:    ea.def.Name,
			NewEntity: eb.def.Name,
			Attributes: []models.AttributeChange{
				{Attribute: models.AttrName, Old: ea.def.Name, New: eb.def.Name},
			},
			Score: p.score,
		})
		d.compared++
		d.changed++
	}

	fieldPairs := matchFieldsByName(ea, eb)
	if d.cfg.Strategy == models.CompareSemantic || (d.cfg.Strategy == models.CompareHybrid && p.semantic) {
		leftA, leftB := unmatchedFields(ea, eb, fieldPairs)
		fieldPairs = append(fieldPairs, matchFieldsBySimilarity(leftA, leftB, d.cfg.Threshold)...)
	}
	leftA, leftB := unmatchedFields(ea, eb, fieldPairs)

	slots := len(fieldPairs) + len(leftA) + len(leftB)
	if slots == 0 {
		d.compared++
		return
	}
	d.compared += slots

	for _, fp := range fieldPairs {
		attrs := diffFields(fp.a, fp.b)
		if len(attrs) == 0 {
			continue
		}
		before, after := fp.a.Clone(), fp.b.Clone()
		d.changes.Modified = append(d.changes.Modified, models.Modification{
			Path:       path(ea.def.Name, fp.a.Name),
			NewPath:    path(eb.def.Name, fp.b.Name),
			Scope:      models.ScopeField,
			Entity:     ea.def.Name,
			NewEntity:  eb.def.Name,
			Field:      fp.a.Name,
			NewField:   fp.b.Name,
			Attributes: attrs,
			Before:     &before,
			After:      &after,
			Score:      fp.score,
		})
		d.changed++
	}
	for _, f := range leftA {
		def := f.Clone()
		d.changes.Removed = append(d.changes.Removed, models.Change{
			Path:     path(ea.def.Name, f.Name),
			Scope:    models.ScopeField,
			Entity:   ea.def.Name,
			Field:    f.Name,
			FieldDef: &def,
		})
		d.changed++
	}
	for _, f := range leftB {
		def := f.Clone()
		d.changes.Added = append(d.changes.Added, models.Change{
			Path:     path(eb.def.Name, f.Name),
			Scope:    models.ScopeField,
			Entity:   eb.def.Name,
			Field:    f.Name,
			FieldDef: &def,
		})
		d.changed++
	}
}

type fieldPair struct {
	a, b  models.Field
	score float64
}

func matchFieldsByName(ea, eb *indexedEntity) []fieldPair {
	var pairs []fieldPair
	for _, fa := range ea.def.Fields {
		if ib, ok := eb.fields[keyOf(ea, fa.Name)]; ok {
			pairs = append(pairs, fieldPair{a: fa, b: eb.def.Fields[ib], score: 1})
		}
	}
	return pairs
}

// keyOf recovers the matching key of a field of e.
func keyOf(e *indexedEntity, name string) string {
	for key, i := range e.fields {
		if e.def.Fields[i].Name == name {
			return key
		}
	}
	return name
}

func unmatchedFields(ea, eb *indexedEntity, pairs []fieldPair) ([]models.Field, []models.Field) {
	usedA := make(map[string]bool, len(pairs))
	usedB := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		usedA[p.a.Name], usedB[p.b.Name] = true, true
	}
	var leftA, leftB []models.Field
	for _, f := range ea.def.Fields {
		if !usedA[f.Name] {
			leftA = append(leftA, f)
		}
	}
	for _, f := range eb.def.Fields {
		if !usedB[f.Name] {
			leftB = append(leftB, f)
		}
	}
	return leftA, leftB
}

func matchFieldsBySimilarity(as, bs []models.Field, threshold float64) []fieldPair {
	var candidates []fieldPair
	for _, fa := range as {
		for _, fb := range bs {
			if score := fieldSimilarity(fa, fb); score >= threshold {
				candidates = append(candidates, fieldPair{a: fa, b: fb, score: score})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.score != cj.score {
			return ci.score > cj.score
		}
		if ci.a.Name != cj.a.Name {
			return ci.a.Name < cj.a.Name
		}
		return ci.b.Name < cj.b.Name
	})

	usedA := make(map[string]bool)
	usedB := make(map[string]bool)
	var pairs []fieldPair
	for _, c := range candidates {
		if usedA[c.a.Name] || usedB[c.b.Name] {
			continue
		}
		usedA[c.a.Name], usedB[c.b.Name] = true, true
		pairs = append(pairs, c)
	}
	return pairs
}

// diffFields lists differing attributes in a fixed order.
func diffFields(a, b models.Field) []models.AttributeChange {
	var attrs []models.AttributeChange
	if a.Name != b.Name {
		attrs = append(attrs, models.AttributeChange{Attribute: models.AttrName, Old: a.Name, New: b.Name})
	}
	if a.DeclaredType != b.DeclaredType {
		attrs = append(attrs, models.AttributeChange{Attribute: models.AttrDeclaredType, Old: string(a.DeclaredType), New: string(b.DeclaredType)})
	}
	if a.Nullable != b.Nullable {
		attrs = append(attrs, models.AttributeChange{Attribute: models.AttrNullable, Old: a.Nullable, New: b.Nullable})
	}
	if !sameDefault(a.Default, b.Default) {
		attrs = append(attrs, models.AttributeChange{Attribute: models.AttrDefault, Old: defaultValue(a.Default), New: defaultValue(b.Default)})
	}
	if a.IsPrimaryKey != b.IsPrimaryKey {
		attrs = append(attrs, models.AttributeChange{Attribute: models.AttrIsPrimaryKey, Old: a.IsPrimaryKey, New: b.IsPrimaryKey})
	}
	return attrs
}

func sameDefault(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func defaultValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func (d *differ) result(a, b *models.SchemaIR, cfg models.CompareConfig, pairs []entityPair) *models.ComparisonResult {
	sortChanges(d.changes.Added)
	sortChanges(d.changes.Removed)
	sort.SliceStable(d.changes.Modified, func(i, j int) bool {
		mi, mj := d.changes.Modified[i], d.changes.Modified[j]
		if mi.Path != mj.Path {
			return mi.Path < mj.Path
		}
		return mi.NewPath < mj.NewPath
	})

	matches := make([]models.EntityMatch, 0, len(pairs))
	for _, p := range pairs {
		matches = append(matches, models.EntityMatch{A: p.a.def.Name, B: p.b.def.Name, Score: p.score})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].A < matches[j].A })

	similarity := 1.0
	if d.compared > 0 {
		similarity = clamp01(1 - float64(d.changed)/float64(d.compared))
	}

	ignore := append([]string(nil), cfg.IgnoreFields...)
	sort.Strings(ignore)
	cfg.IgnoreFields = ignore

	return &models.ComparisonResult{
		SourceA:   a.SourceName,
		SourceB:   b.SourceName,
		IRVersion: a.IRVersion,
		Config:    cfg,
		Changes:   d.changes,
		Matches:   matches,
		Statistics: models.ComparisonStatistics{
			Similarity:      similarity,
			ComparedItems:   d.compared,
			ChangedItems:    d.changed,
			EntitiesA:       len(a.Entities),
			EntitiesB:       len(b.Entities),
			MatchedEntities: len(pairs),
		},
	}
}

func sortChanges(changes []models.Change) {
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}

// summarizeComparison renders a one-line summary for logs.
func summarizeComparison(r *models.ComparisonResult) string {
	return fmt.Sprintf("%d added, %d removed, %d modified (similarity %.2f)",
		len(r.Changes.Added), len(r.Changes.Removed), len(r.Changes.Modified), r.Statistics.Similarity)
}
