package models

import (
	"strings"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// PlanFormatVersion is written into every plan document.
const PlanFormatVersion = "1.0.0"

// ResolveStrategy is the risk tolerance for resolving modified items.
type ResolveStrategy string

const (
	ResolveConservative ResolveStrategy = "conservative"
	ResolveAggressive   ResolveStrategy = "aggressive"
	ResolveBalanced     ResolveStrategy = "balanced"
)

// ParseResolveStrategy maps an option string to a strategy. Empty means balanced.
func ParseResolveStrategy(s string) (ResolveStrategy, error) {
	switch ResolveStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResolveBalanced:
		return ResolveBalanced, nil
	case ResolveConservative:
		return ResolveConservative, nil
	case ResolveAggressive:
		return ResolveAggressive, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown resolve strategy %q", s)
}

// Tolerance scales diff similarity into action confidence.
func (s ResolveStrategy) Tolerance() float64 {
	switch s {
	case ResolveConservative:
		return 0.5
	case ResolveAggressive:
		return 1.0
	default:
		return 0.75
	}
}

// PreferSource picks which side wins when sides disagree.
type PreferSource string

const (
	PreferA     PreferSource = "a"
	PreferB     PreferSource = "b"
	PreferMerge PreferSource = "merge"
)

// ParsePreferSource maps an option string to a preference. Empty means merge.
func ParsePreferSource(s string) (PreferSource, error) {
	switch PreferSource(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreferMerge:
		return PreferMerge, nil
	case PreferA:
		return PreferA, nil
	case PreferB:
		return PreferB, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown prefer_source %q", s)
}

// DefaultAutoResolveSimilarity is the balanced strategy's cut-off.
const DefaultAutoResolveSimilarity = 0.5

// ResolveConfig parameterizes the resolver.
type ResolveConfig struct {
	Strategy     ResolveStrategy
	PreferSource PreferSource
	// AutoResolveSimilarity is the minimum diff similarity for balanced
	// automatic resolution. Nil means DefaultAutoResolveSimilarity; zero
	// auto-resolves every balanced change.
	AutoResolveSimilarity *float64
}

// Cutoff is the effective balanced auto-resolve similarity.
func (c ResolveConfig) Cutoff() float64 {
	if c.AutoResolveSimilarity == nil {
		return DefaultAutoResolveSimilarity
	}
	return *c.AutoResolveSimilarity
}

// DefaultResolveConfig returns balanced resolution preferring a merge.
func DefaultResolveConfig() ResolveConfig {
	return ResolveConfig{
		Strategy:     ResolveBalanced,
		PreferSource: PreferMerge,
	}
}

// ActionKind is what an action does to its target.
type ActionKind string

const (
	ActionAcceptA      ActionKind = "accept_a"
	ActionAcceptB      ActionKind = "accept_b"
	ActionMerge        ActionKind = "merge"
	ActionRename       ActionKind = "rename"
	ActionDrop         ActionKind = "drop"
	ActionManualReview ActionKind = "manual_review"
)

// ParseActionKind validates a kind read from a plan document.
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(s); k {
	case ActionAcceptA, ActionAcceptB, ActionMerge, ActionRename, ActionDrop, ActionManualReview:
		return k, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown action kind %q", s)
}

// Action is one step of a plan. Entity and Field locate the target in an
// A-shaped store at the moment the action runs, after every earlier action.
type Action struct {
	Target     string
	Kind       ActionKind
	Confidence float64
	Origin     ChangeKind
	Scope      ChangeScope
	Entity     string
	// EntityAlias is the other name of an entity renamed between sides. It
	// locates the target when Entity is absent, e.g. on re-apply.
	EntityAlias string
	Field       string
	// RenameTo is the name the target ends with when it differs from the locator.
	RenameTo string
	// Desired is the end state of a field-scope target; nil means absent.
	Desired *Field
	// DesiredEntity is the end state of an entity-scope target; nil means absent
	// for drops and "keep as is" for renames.
	DesiredEntity *Entity
	Reason        string
}

// Mutating reports whether the action may change a store.
func (a Action) Mutating() bool {
	return a.Kind != ActionManualReview
}

// ResolutionPlan is an immutable ordered list of actions.
type ResolutionPlan struct {
	ID           string
	Version      string
	SourceA      string
	SourceB      string
	Strategy     ResolveStrategy
	PreferSource PreferSource
	Similarity   float64
	Actions      []Action
}

// KindCounts tallies actions per kind.
func (p *ResolutionPlan) KindCounts() map[ActionKind]int {
	counts := make(map[ActionKind]int)
	for _, a := range p.Actions {
		counts[a.Kind]++
	}
	return counts
}
