package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

// planNamespace seeds deterministic plan ids.
var planNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://ekaya.ai/reconcile/plan"))

// ResolverService turns a diff into an ordered plan of reconciliation actions.
// It holds no mutable state and is safe for concurrent use.
type ResolverService interface {
	// Propose builds a plan. Identical inputs produce identical plans,
	// including the plan id.
	Propose(diff *models.ComparisonResult, cfg models.ResolveConfig) (*models.ResolutionPlan, error)
}

type resolverService struct {
	logger *zap.Logger
}

// NewResolverService creates a new ResolverService.
func NewResolverService(logger *zap.Logger) ResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &resolverService{logger: logger.Named("resolver")}
}

var _ ResolverService = (*resolverService)(nil)

func (s *resolverService) Propose(diff *models.ComparisonResult, cfg models.ResolveConfig) (*models.ResolutionPlan, error) {
	if diff == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "comparison result is required")
	}
	cfg, err := normalizeResolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	similarity := clamp01(diff.Statistics.Similarity)
	contested := contestedEntityNames(diff)
	b := &planBuilder{
		cfg:        cfg,
		similarity: similarity,
		confidence: clamp01(similarity * cfg.Strategy.Tolerance()),
		locator:    newEntityLocator(diff.Matches, contested),
		contested:  contested,
	}

	for _, c := range sortedChanges(diff.Changes.Added) {
		b.added(c)
	}
	for _, c := range sortedChanges(diff.Changes.Removed) {
		b.removed(c)
	}
	modified := append([]models.Modification(nil), diff.Changes.Modified...)
	sort.SliceStable(modified, func(i, j int) bool {
		if modified[i].Path != modified[j].Path {
			return modified[i].Path < modified[j].Path
		}
		return modified[i].NewPath < modified[j].NewPath
	})
	for _, m := range modified {
		if err := b.modified(m); err != nil {
			return nil, err
		}
	}

	plan := &models.ResolutionPlan{
		Version:      models.PlanFormatVersion,
		SourceA:      diff.SourceA,
		SourceB:      diff.SourceB,
		Strategy:     cfg.Strategy,
		PreferSource: cfg.PreferSource,
		Similarity:   similarity,
		Actions:      b.actions,
	}
	id, err := planID(plan)
	if err != nil {
		return nil, err
	}
	plan.ID = id

	s.logger.Debug("Resolution plan proposed",
		zap.String("plan_id", plan.ID),
		zap.String("strategy", string(cfg.Strategy)),
		zap.String("prefer_source", string(cfg.PreferSource)),
		zap.Int("actions", len(plan.Actions)),
	)

	return plan, nil
}

func normalizeResolveConfig(cfg models.ResolveConfig) (models.ResolveConfig, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = models.ResolveBalanced
	}
	if cfg.PreferSource == "" {
		cfg.PreferSource = models.PreferMerge
	}
	if _, err := models.ParseResolveStrategy(string(cfg.Strategy)); err != nil {
		return cfg, err
	}
	if _, err := models.ParsePreferSource(string(cfg.PreferSource)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// planID hashes the plan body so equal plans share an id.
func planID(p *models.ResolutionPlan) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "hash plan", err)
	}
	return uuid.NewSHA1(planNamespace, body).String(), nil
}

func sortedChanges(changes []models.Change) []models.Change {
	out := append([]models.Change(nil), changes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// contestedEntityNames lists entity names that a and b give to different
// entities: a semantic match renamed a's entity away while b kept, or added,
// another entity under its name. Actions keyed by such a name cannot tell the
// two entities apart in an a-shaped store.
func contestedEntityNames(diff *models.ComparisonResult) map[string]bool {
	inA := make(map[string]bool)
	inB := make(map[string]bool)
	paired := make(map[string]bool)
	for _, m := range diff.Matches {
		inA[m.A], inB[m.B] = true, true
		if m.A == m.B {
			paired[m.A] = true
		}
	}
	for _, c := range diff.Changes.Removed {
		if c.Scope == models.ScopeEntity {
			inA[c.Entity] = true
		}
	}
	for _, c := range diff.Changes.Added {
		if c.Scope == models.ScopeEntity {
			inB[c.Entity] = true
		}
	}
	contested := make(map[string]bool)
	for name := range inA {
		if inB[name] && !paired[name] {
			contested[name] = true
		}
	}
	return contested
}

// entityLocator tracks the name each entity has in an A-shaped store as
// earlier plan actions rename entities.
type entityLocator struct {
	bToA    map[string]string
	partner map[string]string
	current map[string]string
}

func newEntityLocator(matches []models.EntityMatch, contested map[string]bool) *entityLocator {
	l := &entityLocator{
		bToA:    make(map[string]string),
		partner: make(map[string]string),
		current: make(map[string]string),
	}
	for _, m := range matches {
		if m.A == m.B {
			continue
		}
		l.bToA[m.B] = m.A
		if !contested[m.A] && !contested[m.B] {
			l.partner[m.A] = m.B
			l.partner[m.B] = m.A
		}
	}
	return l
}

// fromA locates an entity known by its A-side name.
func (l *entityLocator) fromA(name string) string {
	if cur, ok := l.current[name]; ok {
		return cur
	}
	return name
}

// fromB locates an entity known by its B-side name.
func (l *entityLocator) fromB(name string) string {
	if a, ok := l.bToA[name]; ok {
		return l.fromA(a)
	}
	return name
}

// alias returns the other name of a renamed pair member.
func (l *entityLocator) alias(name string) string {
	return l.partner[name]
}

func (l *entityLocator) renamed(aName, to string) {
	l.current[aName] = to
}

type planBuilder struct {
	cfg        models.ResolveConfig
	similarity float64
	confidence float64
	locator    *entityLocator
	contested  map[string]bool
	actions    []models.Action
}

// collision returns the contested name an entity action would create, drop
// or rename under, if any.
func (b *planBuilder) collision(a models.Action) (string, bool) {
	if a.Scope != models.ScopeEntity {
		return "", false
	}
	var names []string
	switch {
	case a.RenameTo != "":
		names = []string{a.Entity, a.RenameTo}
	case a.Kind == models.ActionDrop:
		names = []string{a.Entity}
	case a.Kind == models.ActionAcceptB && a.Origin == models.ChangeAdded:
		names = []string{a.Entity}
	}
	for _, n := range names {
		if b.contested[n] {
			return n, true
		}
	}
	return "", false
}

// holdForReview turns a colliding action into manual_review so no store
// change is made under an ambiguous name.
func holdForReview(a *models.Action, name string) {
	reason := fmt.Sprintf("entity name %s refers to different entities in a and b", name)
	if a.Reason != "" {
		reason += "; " + a.Reason
	}
	a.Kind = models.ActionManualReview
	a.Reason = reason
	a.RenameTo = ""
	a.Desired = nil
	a.DesiredEntity = nil
}

func (b *planBuilder) emit(a models.Action) {
	if name, ok := b.collision(a); ok {
		holdForReview(&a, name)
	}
	a.Confidence = b.confidence
	if a.Scope == models.ScopeField {
		a.EntityAlias = b.locator.alias(a.Entity)
	}
	b.actions = append(b.actions, a)
}

func (b *planBuilder) added(c models.Change) {
	a := models.Action{
		Target: c.Path,
		Origin: models.ChangeAdded,
		Scope:  c.Scope,
		Entity: b.locator.fromB(c.Entity),
		Field:  c.Field,
	}
	if b.cfg.PreferSource == models.PreferA {
		a.Kind = models.ActionDrop
		a.Reason = "present only in b; a is preferred"
		b.emit(a)
		return
	}
	a.Kind = models.ActionAcceptB
	a.Reason = "present only in b"
	a.Desired = cloneField(c.FieldDef)
	a.DesiredEntity = cloneEntity(c.EntityDef)
	b.emit(a)
}

func (b *planBuilder) removed(c models.Change) {
	a := models.Action{
		Target: c.Path,
		Origin: models.ChangeRemoved,
		Scope:  c.Scope,
		Entity: b.locator.fromA(c.Entity),
		Field:  c.Field,
	}
	if b.cfg.PreferSource == models.PreferB {
		a.Kind = models.ActionDrop
		a.Reason = "present only in a; b is preferred"
		b.emit(a)
		return
	}
	a.Kind = models.ActionAcceptA
	a.Reason = "present only in a"
	a.Desired = cloneField(c.FieldDef)
	a.DesiredEntity = cloneEntity(c.EntityDef)
	b.emit(a)
}

// decide picks the kind for a modified item before rename handling.
func (b *planBuilder) decide() models.ActionKind {
	auto := false
	switch b.cfg.Strategy {
	case models.ResolveConservative:
		auto = false
	case models.ResolveAggressive:
		auto = true
	case models.ResolveBalanced:
		auto = b.similarity >= b.cfg.Cutoff()
	}
	if !auto {
		return models.ActionManualReview
	}
	switch b.cfg.PreferSource {
	case models.PreferA:
		return models.ActionAcceptA
	case models.PreferB:
		return models.ActionAcceptB
	default:
		return models.ActionMerge
	}
}

func (b *planBuilder) modified(m models.Modification) error {
	kind := b.decide()
	a := models.Action{
		Target: m.Path,
		Kind:   kind,
		Origin: models.ChangeModified,
		Scope:  m.Scope,
		Entity: b.locator.fromA(m.Entity),
		Field:  m.Field,
		Reason: describeAttributes(m.Attributes),
	}

	switch m.Scope {
	case models.ScopeEntity:
		if m.IsRename() && (kind == models.ActionAcceptB || kind == models.ActionMerge) {
			if kind == models.ActionAcceptB {
				a.Kind = models.ActionRename
			}
			a.RenameTo = m.NewEntity
			_, held := b.collision(a)
			b.emit(a)
			if !held {
				b.locator.renamed(m.Entity, m.NewEntity)
			}
			return nil
		}
		b.emit(a)
		return nil

	case models.ScopeField:
		if m.Before == nil || m.After == nil {
			return apperrors.Newf(apperrors.CodeInvalidInput, "modification %q is missing before/after definitions", m.Path)
		}
		switch kind {
		case models.ActionAcceptA:
			a.Desired = cloneField(m.Before)
		case models.ActionAcceptB:
			a.Desired = cloneField(m.After)
			if m.IsRename() {
				a.Kind = models.ActionRename
				a.RenameTo = m.After.Name
			}
		case models.ActionMerge:
			merged := mergeFields(*m.Before, *m.After)
			a.Desired = &merged
			if m.IsRename() {
				a.RenameTo = merged.Name
			}
		}
		b.emit(a)
		return nil
	}
	return apperrors.Newf(apperrors.CodeInvalidInput, "unknown scope %q for %q", m.Scope, m.Path)
}

// mergeFields combines both sides: the wider type of one family (else b's),
// nullable if either side is, b's default when set, primary key only if both agree.
func mergeFields(a, b models.Field) models.Field {
	out := b.Clone()
	if t, ok := models.WiderType(a.DeclaredType, b.DeclaredType); ok {
		out.DeclaredType = t
	}
	switch out.DeclaredType {
	case b.DeclaredType:
		out.NativeType = b.NativeType
	case a.DeclaredType:
		out.NativeType = a.NativeType
	default:
		out.NativeType = ""
	}
	out.Nullable = a.Nullable || b.Nullable
	if b.Default == nil && a.Default != nil {
		d := *a.Default
		out.Default = &d
	}
	out.IsPrimaryKey = a.IsPrimaryKey && b.IsPrimaryKey
	return out
}

func describeAttributes(attrs []models.AttributeChange) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, fmt.Sprintf("%s %v -> %v", a.Attribute, displayValue(a.Old), displayValue(a.New)))
	}
	return strings.Join(parts, "; ")
}

func displayValue(v any) any {
	if v == nil {
		return "null"
	}
	return v
}

func cloneField(f *models.Field) *models.Field {
	if f == nil {
		return nil
	}
	c := f.Clone()
	return &c
}

func cloneEntity(e *models.Entity) *models.Entity {
	if e == nil {
		return nil
	}
	c := e.Clone()
	return &c
}
