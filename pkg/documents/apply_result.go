package documents

import (
	"time"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/models"
)

type ApplyResultDocument struct {
	RunID      string            `json:"run_id,omitempty"`
	PlanID     string            `json:"plan_id"`
	DryRun     bool              `json:"dry_run"`
	State      string            `json:"state"`
	Applied    int               `json:"applied"`
	WouldApply int               `json:"would_apply"`
	BackupRef  string            `json:"backup_ref,omitempty"`
	Counts     OutcomeCounts     `json:"counts"`
	Results    []OutcomeDocument `json:"results"`
	Code       string            `json:"code,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

type OutcomeCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type OutcomeDocument struct {
	Index      int    `json:"index"`
	Target     string `json:"target"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Projection string `json:"projection,omitempty"`
}

// FromApplyResult converts an apply result to its document.
func FromApplyResult(r *models.ApplyResult) *ApplyResultDocument {
	doc := &ApplyResultDocument{
		RunID:      r.RunID,
		PlanID:     r.PlanID,
		DryRun:     r.DryRun,
		State:      string(r.State),
		WouldApply: r.WouldApply,
		BackupRef:  r.BackupRef,
		Counts: OutcomeCounts{
			Succeeded: r.Succeeded,
			Failed:    r.Failed,
			Skipped:   r.Skipped,
		},
		Results:    make([]OutcomeDocument, 0, len(r.Outcomes)),
		Code:       string(r.Code),
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
	}
	if !r.DryRun {
		doc.Applied = r.Succeeded
	}
	for _, o := range r.Outcomes {
		doc.Results = append(doc.Results, OutcomeDocument{
			Index:      o.Index,
			Target:     o.Target,
			Kind:       string(o.Kind),
			Status:     string(o.Status),
			Message:    o.Message,
			Code:       string(o.Code),
			Projection: o.Projection,
		})
	}
	return doc
}

// MarshalApplyResult renders an apply result document.
func MarshalApplyResult(r *models.ApplyResult) ([]byte, error) {
	return marshal(FromApplyResult(r))
}
