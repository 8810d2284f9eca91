package models

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// IsTerminal reports whether the enrollment can no longer advance.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusCompleted, EnrollmentStatusFailed, EnrollmentStatusCancelled:
		return true
	default:
		return false
	}
}

// Enrollment is one entity's execution cursor through one automation.
// Enrollments are stored independently of the automation document so that
// concurrent workers can claim and update them without contending on the
// whole automation.
//
// CurrentActionID is the currently-pending action id; "" means either not
// yet started (ResumeAt nil) or a wait with no successor fired (ResumeAt
// set), in which case the path has ended.
type Enrollment struct {
	ID              string           `json:"id"`
	AutomationID    string           `json:"automation_id" validate:"required"`
	EntityID        string           `json:"entity_id"     validate:"required"`
	TriggeredBy     string           `json:"triggered_by,omitempty"`
	Status          EnrollmentStatus `json:"status"`
	CurrentActionID string           `json:"current_action_id,omitempty"`
	ResumeAt        *time.Time       `json:"resume_at,omitempty"`
	Snapshot        map[string]any   `json:"snapshot,omitempty"` // entity attributes at enrollment time

	// Version is the optimistic single-writer guard. Saves carrying a stale
	// version are rejected by the repository.
	Version int64 `json:"version"`

	TerminationReason string     `json:"termination_reason,omitempty"`
	EnrolledAt        time.Time  `json:"enrolled_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Suspended reports whether the enrollment is parked on a wait action.
func (e *Enrollment) Suspended() bool {
	return e.Status == EnrollmentStatusActive && e.ResumeAt != nil
}
