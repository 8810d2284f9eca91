// Package enrollment applies the re-entry policy and owns the creation and
// termination of enrollments.
package enrollment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/events"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// RejectionReason explains why an entity was not enrolled. Rejections are
// normal outcomes, not errors: they increment the automation's rejected
// counter and are reported to the caller.
type RejectionReason string

const (
	RejectionAutomationInactive RejectionReason = "automation_inactive"
	RejectionAlreadyEnrolled    RejectionReason = "already_enrolled"
	RejectionReentrySuppressed  RejectionReason = "reentry_suppressed"
	RejectionReentryDelay       RejectionReason = "reentry_delay"
	RejectionCapacityReached    RejectionReason = "capacity_reached"
)

// Manager decides enrollment admission and performs terminations.
type Manager struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager creates the enrollment manager. The publisher may be nil.
func NewManager(persistence persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Manager {
	return &Manager{
		persistence: persistence,
		publisher:   publisher,
		logger:      logger.With("module", "enrollment_manager"),
		now:         time.Now,
	}
}

// WithClock overrides the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now

	return m
}

// Enroll admits the entity into the automation, or reports the rejection
// reason. The snapshot is captured once here; later attribute changes never
// leak into an in-flight enrollment.
func (m *Manager) Enroll(
	ctx context.Context,
	automation *models.Automation,
	entityID string,
	triggeredBy string,
	snapshot map[string]any,
) (*models.Enrollment, RejectionReason, error) {
	if reason, err := m.admit(ctx, automation, entityID); reason != "" || err != nil {
		if reason != "" {
			m.reject(ctx, automation, entityID, reason)
		}

		return nil, reason, err
	}

	enrollment := &models.Enrollment{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		EntityID:     entityID,
		TriggeredBy:  triggeredBy,
		Status:       models.EnrollmentStatusActive,
		Snapshot:     snapshot,
		EnrolledAt:   m.now().UTC(),
	}

	if err := m.persistence.Enrollments().Create(ctx, enrollment); err != nil {
		return nil, "", fmt.Errorf("failed to create enrollment: %w", err)
	}

	m.publishEvent(ctx, automation.ID, events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent, automation.ID),
		EnrollmentID: enrollment.ID,
		EntityID:     entityID,
		TriggeredBy:  triggeredBy,
	})

	m.logger.InfoContext(ctx, "Enrolled entity",
		"automation_id", automation.ID,
		"entity_id", entityID,
		"enrollment_id", enrollment.ID)

	return enrollment, "", nil
}

func (m *Manager) admit(ctx context.Context, automation *models.Automation, entityID string) (RejectionReason, error) {
	if !automation.IsRunnable() {
		return RejectionAutomationInactive, nil
	}

	enrollments := m.persistence.Enrollments()
	settings := automation.Settings

	active, err := enrollments.ActiveByEntity(ctx, automation.ID, entityID)
	if err != nil {
		return "", fmt.Errorf("failed to check active enrollment: %w", err)
	}

	// With re-entry allowed, concurrent enrollments are distinct records
	// with independent cursors; without it, one active per entity.
	if active != nil && !settings.AllowReentry {
		return RejectionAlreadyEnrolled, nil
	}

	previous, err := enrollments.LatestEndedByEntity(ctx, automation.ID, entityID)
	if err != nil {
		return "", fmt.Errorf("failed to check previous enrollment: %w", err)
	}

	if previous != nil {
		if !settings.AllowReentry {
			return RejectionReentrySuppressed, nil
		}

		if settings.ReentryDelay > 0 && previous.CompletedAt != nil {
			eligibleAt := previous.CompletedAt.Add(settings.ReentryDelay)
			if m.now().Before(eligibleAt) {
				return RejectionReentryDelay, nil
			}
		}
	}

	if settings.MaxExecutions > 0 {
		count, err := enrollments.CountByEntity(ctx, automation.ID, entityID)
		if err != nil {
			return "", fmt.Errorf("failed to count entity enrollments: %w", err)
		}

		if count >= settings.MaxExecutions {
			return RejectionCapacityReached, nil
		}
	}

	return "", nil
}

// FindDue returns the suspended enrollments whose resume time has elapsed,
// scoped to active automations: paused automations keep their enrollments
// parked until reactivation. Enrollments that are due but outside their
// automation's active window are deferred in place: ResumeAt is advanced to
// the next allowed instant, so the wait completes without the action firing
// early.
func (m *Manager) FindDue(ctx context.Context, now time.Time) ([]*models.Enrollment, error) {
	due, err := m.persistence.Enrollments().FindDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due enrollments: %w", err)
	}

	runnable := make([]*models.Enrollment, 0, len(due))

	for _, enrollment := range due {
		automation, err := m.persistence.Automations().GetByID(ctx, enrollment.AutomationID)
		if err != nil {
			m.logger.WarnContext(ctx, "Skipping enrollment with missing automation",
				"enrollment_id", enrollment.ID, "error", err)

			continue
		}

		if !automation.IsRunnable() {
			continue
		}

		allowed := NextAllowed(now, automation.Settings)
		if !allowed.Equal(now) {
			enrollment.ResumeAt = &allowed
			if err := m.persistence.Enrollments().Save(ctx, enrollment); err != nil {
				if !persistence.IsVersionConflict(err) {
					m.logger.WarnContext(ctx, "Failed to defer enrollment",
						"enrollment_id", enrollment.ID, "error", err)
				}
			}

			continue
		}

		runnable = append(runnable, enrollment)
	}

	return runnable, nil
}

// Terminate moves an enrollment to a terminal status. Terminal states are
// final; a terminated enrollment never advances again.
func (m *Manager) Terminate(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	now := m.now().UTC()
	enrollment.Status = status
	enrollment.TerminationReason = reason
	enrollment.ResumeAt = nil
	enrollment.CompletedAt = &now

	if err := m.persistence.Enrollments().Save(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to terminate enrollment: %w", err)
	}

	m.logger.InfoContext(ctx, "Terminated enrollment",
		"enrollment_id", enrollment.ID,
		"status", status,
		"reason", reason)

	return nil
}

func (m *Manager) reject(ctx context.Context, automation *models.Automation, entityID string, reason RejectionReason) {
	if err := m.persistence.Automations().IncrementStats(ctx, automation.ID, models.StatsDelta{Rejected: 1}); err != nil {
		m.logger.WarnContext(ctx, "Failed to record rejection", "automation_id", automation.ID, "error", err)
	}

	m.publishEvent(ctx, automation.ID, events.EnrollmentRejected{
		BaseEvent: events.NewBaseEvent(events.EnrollmentRejectedEvent, automation.ID),
		EntityID:  entityID,
		Reason:    string(reason),
	})

	m.logger.InfoContext(ctx, "Rejected enrollment",
		"automation_id", automation.ID,
		"entity_id", entityID,
		"reason", reason)
}

func (m *Manager) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, key, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish enrollment event",
			"event_type", event.GetType(), "error", err)
	}
}
