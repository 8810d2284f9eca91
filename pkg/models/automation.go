// Package models defines the core domain models for the marketing
// automation engine.
package models

import "time"

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"    // Editable, never enrolls or advances
	AutomationStatusActive   AutomationStatus = "active"   // Enrolls and advances
	AutomationStatusPaused   AutomationStatus = "paused"   // Advancement frozen, enrollments preserved
	AutomationStatusArchived AutomationStatus = "archived" // Terminal, enrollments cancelled
)

// IsValid checks if the automation status is valid.
func (s AutomationStatus) IsValid() bool {
	switch s {
	case AutomationStatusDraft, AutomationStatusActive,
		AutomationStatusPaused, AutomationStatusArchived:
		return true
	default:
		return false
	}
}

// FailurePolicy decides what happens to an enrollment when a mutating
// action exhausts its retries.
type FailurePolicy string

const (
	FailurePolicyHalt FailurePolicy = "halt" // Terminate the enrollment as failed
	FailurePolicySkip FailurePolicy = "skip" // Record the failure and advance anyway
)

// HourWindow restricts execution to a daily hour range, inclusive of From
// and exclusive of To.
type HourWindow struct {
	From int `json:"from" validate:"min=0,max=23"`
	To   int `json:"to"   validate:"min=1,max=24"`
}

// Settings carries the enrollment policy of an automation.
type Settings struct {
	AllowReentry  bool           `json:"allow_reentry"`
	ReentryDelay  time.Duration  `json:"reentry_delay"`
	MaxExecutions int            `json:"max_executions"` // 0 = unlimited
	ActiveDays    []time.Weekday `json:"active_days,omitempty"`
	ActiveHours   *HourWindow    `json:"active_hours,omitempty"`
	Timezone      string         `json:"timezone,omitempty"`
	FailurePolicy FailurePolicy  `json:"failure_policy,omitempty"`
}

// Stats aggregates run outcomes for an automation. Counters are maintained
// by the persistence layer with atomic increments, never read-modify-write
// on the automation document.
type Stats struct {
	Runs      int64      `json:"runs"`
	Successes int64      `json:"successes"`
	Failures  int64      `json:"failures"`
	Rejected  int64      `json:"rejected"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// StatsDelta is an atomic increment applied to an automation's Stats.
type StatsDelta struct {
	Runs      int64
	Successes int64
	Failures  int64
	Rejected  int64
	LastRunAt *time.Time
	LastError string
}

// Automation is a named workflow definition: one trigger plus an action
// graph. The definition is read-only from the engine's perspective during
// execution.
type Automation struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"           validate:"required,min=3"`
	Description   string           `json:"description,omitempty"`
	Status        AutomationStatus `json:"status"         validate:"required"`
	Trigger       *Trigger         `json:"trigger"        validate:"required"`
	Actions       []*Action        `json:"actions"`
	Settings      Settings         `json:"settings"`
	Stats         Stats            `json:"stats"`
	WebhookSecret string           `json:"webhook_secret,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	PublishedAt   *time.Time       `json:"published_at,omitempty"`
}

// EntryActionID returns the id of the graph's entry action, or "" for an
// empty graph.
func (a *Automation) EntryActionID() string {
	if len(a.Actions) == 0 {
		return ""
	}

	return a.Actions[0].ID
}

// ActionIndex builds the adjacency map keyed by action id for O(1) hop
// resolution.
func (a *Automation) ActionIndex() map[string]*Action {
	index := make(map[string]*Action, len(a.Actions))
	for _, action := range a.Actions {
		index[action.ID] = action
	}

	return index
}

// IsRunnable reports whether the engine may advance enrollments.
func (a *Automation) IsRunnable() bool {
	return a.Status == AutomationStatusActive
}
