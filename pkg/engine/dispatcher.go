package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/cadence/pkg/automation"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/events"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// Dispatcher ties ingest together: match an inbound event against the
// active automations, enroll, and run each new enrollment immediately.
type Dispatcher struct {
	persistence persistence.Persistence
	matcher     *automation.Matcher
	manager     *enrollment.Manager
	executor    *Executor
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// IngestOutcome reports one automation's enrollment decision for an event.
type IngestOutcome struct {
	AutomationID string                     `json:"automation_id"`
	EnrollmentID string                     `json:"enrollment_id,omitempty"`
	Rejection    enrollment.RejectionReason `json:"rejection,omitempty"`
}

// IngestReport summarizes what one event caused.
type IngestReport struct {
	EventID  string          `json:"event_id"`
	Matched  int             `json:"matched"`
	Enrolled int             `json:"enrolled"`
	Outcomes []IngestOutcome `json:"outcomes"`
}

// NewDispatcher creates the event dispatcher. The publisher may be nil.
func NewDispatcher(
	store persistence.Persistence,
	matcher *automation.Matcher,
	manager *enrollment.Manager,
	executor *Executor,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: store,
		matcher:     matcher,
		manager:     manager,
		executor:    executor,
		publisher:   publisher,
		logger:      logger.With("module", "dispatcher"),
		now:         time.Now,
	}
}

// Ingest processes one inbound entity event end to end. Each matched
// automation decides enrollment independently; one rejection never blocks
// another automation's enrollment.
func (d *Dispatcher) Ingest(ctx context.Context, event *models.Event) (*IngestReport, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = d.now().UTC()
	}

	if !event.Kind.IsValid() {
		return nil, fmt.Errorf("unknown event kind: %s", event.Kind)
	}

	d.publishReceived(ctx, event)

	active, err := d.persistence.Automations().ListByStatus(ctx, models.AutomationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active automations: %w", err)
	}

	matches := d.matcher.Match(event, active)

	report := &IngestReport{
		EventID:  event.ID,
		Matched:  len(matches),
		Outcomes: make([]IngestOutcome, 0, len(matches)),
	}

	for _, match := range matches {
		outcome := IngestOutcome{AutomationID: match.Automation.ID}

		enrolled, reason, err := d.manager.Enroll(ctx,
			match.Automation, event.EntityID, string(event.Kind), event.Snapshot)
		if err != nil {
			d.logger.ErrorContext(ctx, "Enrollment failed",
				"automation_id", match.Automation.ID,
				"entity_id", event.EntityID,
				"error", err)

			continue
		}

		if reason != "" {
			outcome.Rejection = reason
			report.Outcomes = append(report.Outcomes, outcome)

			continue
		}

		outcome.EnrollmentID = enrolled.ID
		report.Outcomes = append(report.Outcomes, outcome)
		report.Enrolled++

		if err := d.executor.Run(ctx, enrolled.ID); err != nil {
			d.logger.ErrorContext(ctx, "Run failed after enrollment",
				"enrollment_id", enrolled.ID, "error", err)
		}
	}

	return report, nil
}

func (d *Dispatcher) publishReceived(ctx context.Context, event *models.Event) {
	if d.publisher == nil {
		return
	}

	received := events.EntityEventReceived{
		BaseEvent: events.NewBaseEvent(events.EntityEventReceivedEvent, ""),
		EventID:   event.ID,
		Kind:      string(event.Kind),
		EntityID:  event.EntityID,
		Snapshot:  event.Snapshot,
	}

	if err := d.publisher.Publish(ctx, event.EntityID, received); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish event received", "error", err)
	}
}
