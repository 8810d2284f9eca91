package models

import "time"

// RunLogRetention is the per-automation window of run log records kept by
// the store; older records are dropped, never mutated.
const RunLogRetention = 100

// RunStatus represents the state of one run-attempt record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running" // open, including suspended-on-wait
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// OutcomeStatus represents the result of one action within a run.
type OutcomeStatus string

const (
	OutcomeStatusSuccess OutcomeStatus = "success"
	OutcomeStatusFailed  OutcomeStatus = "failed"
	OutcomeStatusSkipped OutcomeStatus = "skipped"
)

// ActionOutcome is one per-action entry in a run log, appended in strict
// execution order.
type ActionOutcome struct {
	ActionID  string         `json:"action_id"`
	Kind      ActionKind     `json:"kind"`
	Status    OutcomeStatus  `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
	Notes     []string       `json:"notes,omitempty"` // non-fatal evaluation notes
}

// RunLog is the append-only audit record of one enrollment run. It is
// opened when the executor first touches an enrollment and closed at a
// terminal state; a suspended run's log stays open and is continued, not
// duplicated, at resumption.
type RunLog struct {
	ID           string          `json:"id"`
	AutomationID string          `json:"automation_id"`
	EnrollmentID string          `json:"enrollment_id"`
	EntityID     string          `json:"entity_id"`
	Status       RunStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Outcomes     []ActionOutcome `json:"outcomes"`
	Error        string          `json:"error,omitempty"`
}

// Append records one action outcome at the end of the run.
func (r *RunLog) Append(outcome ActionOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
}
