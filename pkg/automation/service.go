package automation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/events"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
	"github.com/loopworks/cadence/pkg/registry"
)

var (
	// ErrAutomationNotFound is returned when an automation is not found.
	ErrAutomationNotFound = persistence.ErrAutomationNotFound

	// ErrNotEditable is returned when a mutation targets a non-draft
	// automation. Published definitions are immutable; archive and rebuild.
	ErrNotEditable = errors.New("only draft automations can be edited")

	// ErrInvalidTransition is returned for a lifecycle change the status
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation marks definition and publish-time graph validation
	// failures, distinguishing caller mistakes from infrastructure errors.
	ErrValidation = errors.New("validation error")
)

// IsValidationError reports whether err stems from automation validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Service owns automation definitions and their lifecycle. Lifecycle events
// are published on the bus for observers; publishing failures are logged,
// never propagated, so the state change always wins.
type Service struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates the automation service. The publisher may be nil when
// no event bus is wired, for example in tests.
func NewService(
	persistence persistence.Persistence,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		persistence: persistence,
		registry:    reg,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "automation_service"),
		now:         time.Now,
	}
}

// Create stores a new draft automation.
func (s *Service) Create(ctx context.Context, automation *models.Automation) (*models.Automation, error) {
	automation.ID = uuid.New().String()
	automation.Status = models.AutomationStatusDraft
	automation.Stats = models.Stats{}
	automation.PublishedAt = nil
	automation.CreatedAt = s.now().UTC()
	automation.UpdatedAt = automation.CreatedAt

	if err := s.validator.Struct(automation); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.persistence.Automations().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Created automation", "automation_id", automation.ID, "name", automation.Name)

	return automation, nil
}

// Update replaces a draft automation's definition. Status, stats and
// timestamps are owned by the service and cannot be patched.
func (s *Service) Update(ctx context.Context, id string, updated *models.Automation) (*models.Automation, error) {
	existing, err := s.persistence.Automations().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.AutomationStatusDraft {
		return nil, ErrNotEditable
	}

	existing.Name = updated.Name
	existing.Description = updated.Description
	existing.Trigger = updated.Trigger
	existing.Actions = updated.Actions
	existing.Settings = updated.Settings
	existing.UpdatedAt = s.now().UTC()

	if err := s.validator.Struct(existing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.persistence.Automations().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return existing, nil
}

// GetByID returns one automation.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	return s.persistence.Automations().GetByID(ctx, id)
}

// List returns every automation.
func (s *Service) List(ctx context.Context) ([]*models.Automation, error) {
	return s.persistence.Automations().List(ctx)
}

// Delete removes a draft automation. Anything past draft must be archived
// instead, so run history stays attributable.
func (s *Service) Delete(ctx context.Context, id string) error {
	automation, err := s.persistence.Automations().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if automation.Status != models.AutomationStatusDraft {
		return fmt.Errorf("%w: delete requires draft, automation is %s", ErrInvalidTransition, automation.Status)
	}

	return s.persistence.Automations().Delete(ctx, id)
}

// Publish validates a draft and activates it. Validation failures reject
// the publish outright and leave the draft untouched.
func (s *Service) Publish(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.Automations().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status != models.AutomationStatusDraft {
		return nil, fmt.Errorf("%w: publish requires draft, automation is %s", ErrInvalidTransition, automation.Status)
	}

	if err := ValidateForPublishing(automation, s.registry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if automation.Trigger.Kind == models.TriggerKindWebhookReceived && automation.WebhookSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
		}

		automation.WebhookSecret = secret
	}

	now := s.now().UTC()
	automation.Status = models.AutomationStatusActive
	automation.PublishedAt = &now
	automation.UpdatedAt = now

	if err := s.persistence.Automations().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.publishEvent(ctx, automation.ID, events.AutomationPublished{
		BaseEvent: events.NewBaseEvent(events.AutomationPublishedEvent, automation.ID),
		Name:      automation.Name,
	})

	s.logger.InfoContext(ctx, "Published automation", "automation_id", automation.ID, "name", automation.Name)

	return automation, nil
}

// Pause freezes an active automation. Enrollments hold position and resume
// when the automation is resumed.
func (s *Service) Pause(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.transition(ctx, id, models.AutomationStatusActive, models.AutomationStatusPaused)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, id, events.AutomationPaused{
		BaseEvent: events.NewBaseEvent(events.AutomationPausedEvent, id),
	})

	return automation, nil
}

// Resume reactivates a paused automation.
func (s *Service) Resume(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.transition(ctx, id, models.AutomationStatusPaused, models.AutomationStatusActive)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, id, events.AutomationResumed{
		BaseEvent: events.NewBaseEvent(events.AutomationResumedEvent, id),
	})

	return automation, nil
}

// Archive retires an automation permanently. The worker cancels its active
// enrollments on next contact; archive is never reversed.
func (s *Service) Archive(ctx context.Context, id string) (*models.Automation, error) {
	automation, err := s.persistence.Automations().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status == models.AutomationStatusArchived {
		return automation, nil
	}

	automation.Status = models.AutomationStatusArchived
	automation.UpdatedAt = s.now().UTC()

	if err := s.persistence.Automations().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.publishEvent(ctx, id, events.AutomationArchived{
		BaseEvent: events.NewBaseEvent(events.AutomationArchivedEvent, id),
	})

	s.logger.InfoContext(ctx, "Archived automation", "automation_id", id)

	return automation, nil
}

// HealthCheck checks the health of the persistence layer.
func (s *Service) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (s *Service) transition(ctx context.Context, id string, from, to models.AutomationStatus) (*models.Automation, error) {
	automation, err := s.persistence.Automations().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if automation.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s requires %s, automation is %s",
			ErrInvalidTransition, from, to, from, automation.Status)
	}

	automation.Status = to
	automation.UpdatedAt = s.now().UTC()

	if err := s.persistence.Automations().Save(ctx, automation); err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	s.logger.InfoContext(ctx, "Automation status changed",
		"automation_id", id, "from", from, "to", to)

	return automation, nil
}

func (s *Service) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "error", err)
	}
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
