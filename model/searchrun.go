// Package model holds the core domain types: search runs, grants, the
// credit ledger, and the verified caller identity.
//
// SearchRun status graph:
//
//	pending ──► running ──► completed
//	    │           │
//	    └───────────┴─────► failed
//
// completed and failed are terminal states.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle status of a SearchRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// validRunTransitions lists every allowed from/to pair.
var validRunTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed},
	RunRunning: {RunCompleted, RunFailed},
	// completed and failed are terminal, no outgoing transitions
}

// ParseRunStatus converts a raw string to a RunStatus, returning an error
// for unknown values.
func ParseRunStatus(s string) (RunStatus, error) {
	st := RunStatus(s)
	switch st {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunTransitionAllowed returns true when moving from the first status to
// the second is permitted by the state machine.
func RunTransitionAllowed(from, to RunStatus) bool {
	allowed, ok := validRunTransitions[from]
	if !ok {
		return false // terminal state
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TriggerKind says what initiated a SearchRun.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// SearchRun is one invocation of the grant-discovery pipeline.
// Cost fields are dollars; Charged is set exactly once, when the run
// reaches a terminal state and the incurred provider cost is settled.
type SearchRun struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Trigger       TriggerKind     `json:"trigger"`
	Query         string          `json:"query"`
	Status        RunStatus       `json:"status"`
	ProgressStep  string          `json:"progress_step,omitempty"`
	ProgressPct   int             `json:"progress_pct"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	ActualCost    decimal.Decimal `json:"actual_cost"`
	ChargedAmount decimal.Decimal `json:"charged_amount"`
	GrantCount    int             `json:"grant_count"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// SearchProfile is the caller-supplied context the scorer matches grants
// against: focus areas, geography and the desired funding range.
// Zero amounts mean "no declared range".
type SearchProfile struct {
	FocusAreas []string        `json:"focus_areas,omitempty"`
	Geography  string          `json:"geography,omitempty"`
	AmountMin  decimal.Decimal `json:"amount_min"`
	AmountMax  decimal.Decimal `json:"amount_max"`
}

// ScheduledSearch is an opt-in standing search dispatched by the cron
// scheduler on behalf of a user.
type ScheduledSearch struct {
	ID      string        `json:"id"`
	UserID  string        `json:"user_id"`
	Email   string        `json:"email"`
	Query   string        `json:"query"`
	Profile SearchProfile `json:"profile"`
	Enabled bool          `json:"enabled"`
}
