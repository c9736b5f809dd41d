package models

import (
	"time"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// ApplyState is a step of the apply state machine.
type ApplyState string

const (
	ApplyStateProposed      ApplyState = "proposed"
	ApplyStateValidating    ApplyState = "validating"
	ApplyStateDryRun        ApplyState = "dry_run"
	ApplyStateApplying      ApplyState = "applying"
	ApplyStateCommitted     ApplyState = "committed"
	ApplyStateFailedPartial ApplyState = "failed_partial"
	ApplyStateCancelled     ApplyState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ApplyState) Terminal() bool {
	switch s {
	case ApplyStateCommitted, ApplyStateFailedPartial, ApplyStateCancelled:
		return true
	}
	return false
}

// OutcomeStatus is the result of one action.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// ApplyConfig parameterizes one apply call.
type ApplyConfig struct {
	DryRun        bool
	Backup        bool
	StopOnFailure bool
	// Timeout bounds the whole call; zero means none.
	Timeout time.Duration
}

// ActionOutcome records what happened to one action.
type ActionOutcome struct {
	Index   int
	Target  string
	Kind    ActionKind
	Status  OutcomeStatus
	Message string
	Code    apperrors.Code
	// Projection describes what a dry run would do.
	Projection string
}

// ApplyResult is the terminal artifact of one apply call.
type ApplyResult struct {
	RunID      string
	PlanID     string
	DryRun     bool
	State      ApplyState
	BackupRef  string
	Outcomes   []ActionOutcome
	Succeeded  int
	Failed     int
	Skipped    int
	WouldApply int
	// Code is set when the call ended early on cancellation or timeout.
	Code       apperrors.Code
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record appends an outcome and updates the counts.
func (r *ApplyResult) Record(o ActionOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeSucceeded:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// ApplyRun is the persisted audit record of a non-dry-run apply.
type ApplyRun struct {
	ID         string
	PlanID     string
	StoreKey   string
	State      ApplyState
	BackupRef  string
	Succeeded  int
	Failed     int
	Skipped    int
	StartedAt  time.Time
	FinishedAt time.Time
}
