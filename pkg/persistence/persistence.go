// Package persistence provides the storage abstraction for automations,
// enrollments and run logs.
package persistence

import (
	"context"
	"time"

	"github.com/loopworks/cadence/pkg/models"
)

// AutomationRepository stores automation definitions. Definitions are
// read-only from the engine's perspective; the engine only touches Stats,
// through atomic increments.
type AutomationRepository interface {
	List(ctx context.Context) ([]*models.Automation, error)
	ListByStatus(ctx context.Context, status models.AutomationStatus) ([]*models.Automation, error)
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	Save(ctx context.Context, automation *models.Automation) error
	Delete(ctx context.Context, id string) error
	IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error
}

// EnrollmentRepository stores enrollments as independent records keyed by
// enrollment id and indexed by (automation, entity), so concurrent workers
// never contend on the automation document.
type EnrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error

	// Save applies an optimistic version check: it fails with
	// ErrVersionConflict when the stored version no longer matches the
	// enrollment's, and bumps the version on success.
	Save(ctx context.Context, enrollment *models.Enrollment) error

	GetByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error)

	// ActiveByEntity returns the entity's active enrollment in the
	// automation, or nil when there is none.
	ActiveByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error)

	// LatestEndedByEntity returns the entity's most recently terminated
	// enrollment in the automation, or nil. Used for re-entry delay checks.
	LatestEndedByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error)

	CountByAutomation(ctx context.Context, automationID string) (int, error)

	// CountByEntity counts every enrollment, terminal or not, of the entity
	// in the automation. Used for the MaxExecutions cap.
	CountByEntity(ctx context.Context, automationID, entityID string) (int, error)

	// FindDue returns active enrollments whose ResumeAt has elapsed.
	FindDue(ctx context.Context, now time.Time) ([]*models.Enrollment, error)
}

// RunLogRepository stores the append-only, size-bounded audit trail. Save
// upserts a run record; implementations prune each automation's window to
// models.RunLogRetention records.
type RunLogRepository interface {
	Save(ctx context.Context, runLog *models.RunLog) error
	GetByID(ctx context.Context, id string) (*models.RunLog, error)

	// OpenByEnrollment returns the enrollment's running log record, or nil
	// when no run is open. A suspended run keeps its record open.
	OpenByEnrollment(ctx context.Context, enrollmentID string) (*models.RunLog, error)

	ListByAutomation(ctx context.Context, automationID string, limit int) ([]*models.RunLog, error)
}

type Persistence interface {
	Automations() AutomationRepository
	Enrollments() EnrollmentRepository
	RunLogs() RunLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
