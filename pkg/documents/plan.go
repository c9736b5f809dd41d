package documents

import (
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

type PlanDocument struct {
	Version      string           `json:"version"`
	PlanID       string           `json:"plan_id"`
	SourceA      string           `json:"source_a,omitempty"`
	SourceB      string           `json:"source_b,omitempty"`
	Strategy     string           `json:"strategy"`
	PreferSource string           `json:"prefer_source"`
	Similarity   float64          `json:"similarity"`
	Summary      map[string]int   `json:"summary"`
	Actions      []ActionDocument `json:"actions"`
}

type ActionDocument struct {
	Target        string          `json:"target"`
	Kind          string          `json:"kind"`
	Confidence    float64         `json:"confidence"`
	Origin        string          `json:"origin"`
	Scope         string          `json:"scope"`
	Entity        string          `json:"entity"`
	EntityAlias   string          `json:"entity_alias,omitempty"`
	Field         string          `json:"field,omitempty"`
	RenameTo      string          `json:"rename_to,omitempty"`
	Desired       *FieldDocument  `json:"desired,omitempty"`
	DesiredEntity *EntityDocument `json:"desired_entity,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// FromPlan converts a plan to its document.
func FromPlan(p *models.ResolutionPlan) *PlanDocument {
	doc := &PlanDocument{
		Version:      p.Version,
		PlanID:       p.ID,
		SourceA:      p.SourceA,
		SourceB:      p.SourceB,
		Strategy:     string(p.Strategy),
		PreferSource: string(p.PreferSource),
		Similarity:   p.Similarity,
		Summary:      make(map[string]int),
		Actions:      make([]ActionDocument, 0, len(p.Actions)),
	}
	if doc.Version == "" {
		doc.Version = models.PlanFormatVersion
	}
	for kind, n := range p.KindCounts() {
		doc.Summary[string(kind)] = n
	}
	for _, a := range p.Actions {
		doc.Actions = append(doc.Actions, ActionDocument{
			Target:        a.Target,
			Kind:          string(a.Kind),
			Confidence:    a.Confidence,
			Origin:        string(a.Origin),
			Scope:         string(a.Scope),
			Entity:        a.Entity,
			EntityAlias:   a.EntityAlias,
			Field:         a.Field,
			RenameTo:      a.RenameTo,
			Desired:       fieldDocPtr(a.Desired),
			DesiredEntity: entityDocPtr(a.DesiredEntity),
			Reason:        a.Reason,
		})
	}
	return doc
}

// ToModel converts the document to a plan, rejecting unknown enum values.
func (d *PlanDocument) ToModel() (*models.ResolutionPlan, error) {
	strategy, err := models.ParseResolveStrategy(d.Strategy)
	if err != nil {
		return nil, err
	}
	prefer, err := models.ParsePreferSource(d.PreferSource)
	if err != nil {
		return nil, err
	}
	p := &models.ResolutionPlan{
		ID:           d.PlanID,
		Version:      d.Version,
		SourceA:      d.SourceA,
		SourceB:      d.SourceB,
		Strategy:     strategy,
		PreferSource: prefer,
		Similarity:   d.Similarity,
		Actions:      make([]models.Action, 0, len(d.Actions)),
	}
	for i, a := range d.Actions {
		kind, err := models.ParseActionKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		scope, err := parseScope(a.Scope)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		p.Actions = append(p.Actions, models.Action{
			Target:        a.Target,
			Kind:          kind,
			Confidence:    a.Confidence,
			Origin:        models.ChangeKind(a.Origin),
			Scope:         scope,
			Entity:        a.Entity,
			EntityAlias:   a.EntityAlias,
			Field:         a.Field,
			RenameTo:      a.RenameTo,
			Desired:       fieldPtr(a.Desired),
			DesiredEntity: entityPtr(a.DesiredEntity),
			Reason:        a.Reason,
		})
	}
	return p, nil
}

// MarshalPlan renders a plan document. Output is byte-stable for equal plans.
func MarshalPlan(p *models.ResolutionPlan) ([]byte, error) {
	return marshal(FromPlan(p))
}

// ParsePlan decodes a plan document.
func ParsePlan(data []byte) (*models.ResolutionPlan, error) {
	var doc PlanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeJSON, "decode plan document", err)
	}
	return doc.ToModel()
}
