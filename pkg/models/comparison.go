package models

import (
	"strings"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// CompareStrategy selects how entities and fields are matched across schemas.
type CompareStrategy string

const (
	CompareStructural CompareStrategy = "structural"
	CompareSemantic   CompareStrategy = "semantic"
	CompareHybrid     CompareStrategy = "hybrid"
)

// DefaultCompareThreshold is the minimum semantic score for a rename match.
const DefaultCompareThreshold = 0.8

// ParseCompareStrategy maps an option string to a strategy. Empty means structural.
func ParseCompareStrategy(s string) (CompareStrategy, error) {
	switch CompareStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompareStructural:
		return CompareStructural, nil
	case CompareSemantic:
		return CompareSemantic, nil
	case CompareHybrid:
		return CompareHybrid, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown compare strategy %q", s)
}

// CompareConfig parameterizes one comparison and travels with its result.
type CompareConfig struct {
	Threshold    float64
	Strategy     CompareStrategy
	IgnoreFields []string
	// CaseInsensitive matches entity and field names ignoring case.
	CaseInsensitive bool
}

// DefaultCompareConfig returns structural comparison at the default threshold.
func DefaultCompareConfig() CompareConfig {
	return CompareConfig{Threshold: DefaultCompareThreshold, Strategy: CompareStructural}
}

// ChangeScope tells whether a change concerns a whole entity or one field.
type ChangeScope string

const (
	ScopeEntity ChangeScope = "entity"
	ScopeField  ChangeScope = "field"
)

// ChangeKind is the bucket a change belongs to.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Attribute names recorded in modifications.
const (
	AttrName         = "name"
	AttrDeclaredType = "declared_type"
	AttrNullable     = "nullable"
	AttrDefault      = "default"
	AttrIsPrimaryKey = "is_primary_key"
)

// Change is an entity or field present on one side only. Added changes carry
// the B-side definition and path, removed changes the A-side ones.
type Change struct {
	Path   string
	Scope  ChangeScope
	Entity string
	Field  string
	// EntityDef is set for entity-scope changes.
	EntityDef *Entity
	// FieldDef is set for field-scope changes.
	FieldDef *Field
}

// AttributeChange is one differing attribute of a matched item.
type AttributeChange struct {
	Attribute string
	Old       any
	New       any
}

// Modification is a matched item whose attributes differ. Path and
// Entity/Field use A-side names; NewPath, NewEntity and NewField use B-side names.
type Modification struct {
	Path       string
	NewPath    string
	Scope      ChangeScope
	Entity     string
	NewEntity  string
	Field      string
	NewField   string
	Attributes []AttributeChange
	// Before and After are set for field-scope modifications.
	Before *Field
	After  *Field
	// Score is the match score: 1 for identity matches.
	Score float64
}

// IsRename reports whether the item changed name between sides.
func (m Modification) IsRename() bool {
	for _, a := range m.Attributes {
		if a.Attribute == AttrName {
			return true
		}
	}
	return false
}

// Changes groups a diff's buckets. Each bucket is sorted by path.
type Changes struct {
	Added    []Change
	Removed  []Change
	Modified []Modification
}

// Empty reports whether no bucket has entries.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// ComparisonStatistics summarizes a diff.
type ComparisonStatistics struct {
	Similarity      float64
	ComparedItems   int
	ChangedItems    int
	EntitiesA       int
	EntitiesB       int
	MatchedEntities int
}

// EntityMatch pairs an A entity with the B entity it was matched to.
type EntityMatch struct {
	A     string
	B     string
	Score float64
}

// ComparisonResult is an immutable diff between two schemas.
type ComparisonResult struct {
	SourceA    string
	SourceB    string
	IRVersion  string
	Config     CompareConfig
	Changes    Changes
	Matches    []EntityMatch
	Statistics ComparisonStatistics
}
