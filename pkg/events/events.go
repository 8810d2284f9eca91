// Package events defines event types and structures for automation lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "cadence.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Ingest events.
	EntityEventReceivedEvent EventType = "entity.event.received"

	// Enrollment lifecycle events.
	EnrollmentCreatedEvent  EventType = "enrollment.created"
	EnrollmentRejectedEvent EventType = "enrollment.rejected"

	// Run lifecycle events.
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunSuspendedEvent EventType = "run.suspended"
	RunResumedEvent   EventType = "run.resumed"

	// Automation lifecycle events.
	AutomationPublishedEvent EventType = "automation.published"
	AutomationPausedEvent    EventType = "automation.paused"
	AutomationResumedEvent   EventType = "automation.resumed"
	AutomationArchivedEvent  EventType = "automation.archived"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	AutomationID string         `json:"automation_id"`
	WorkerID     string         `json:"worker_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EntityEventReceived is emitted when the API accepts an entity event for
// trigger matching, before any enrollment decision is made.
type EntityEventReceived struct {
	BaseEvent

	EventID  string         `json:"event_id"`
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

func (e EntityEventReceived) GetType() EventType {
	return EntityEventReceivedEvent
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	EntityID     string `json:"entity_id"`
	TriggeredBy  string `json:"triggered_by"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentRejected struct {
	BaseEvent

	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

func (e EnrollmentRejected) GetType() EventType {
	return EnrollmentRejectedEvent
}

type RunCompleted struct {
	BaseEvent

	EnrollmentID    string `json:"enrollment_id"`
	EntityID        string `json:"entity_id"`
	ActionsExecuted int    `json:"actions_executed"`
	DurationMs      int64  `json:"duration_ms"`
}

func (r RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	EntityID     string `json:"entity_id"`
	ActionID     string `json:"action_id"`
	Error        string `json:"error"`
	DurationMs   int64  `json:"duration_ms"`
}

func (r RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunSuspended struct {
	BaseEvent

	EnrollmentID string    `json:"enrollment_id"`
	EntityID     string    `json:"entity_id"`
	ActionID     string    `json:"action_id"`
	ResumeAt     time.Time `json:"resume_at"`
}

func (r RunSuspended) GetType() EventType {
	return RunSuspendedEvent
}

type RunResumed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	EntityID     string `json:"entity_id"`
	ActionID     string `json:"action_id"`
}

func (r RunResumed) GetType() EventType {
	return RunResumedEvent
}

// Automation lifecycle events

type AutomationPublished struct {
	BaseEvent

	Name string `json:"name"`
}

func (a AutomationPublished) GetType() EventType {
	return AutomationPublishedEvent
}

type AutomationPaused struct {
	BaseEvent
}

func (a AutomationPaused) GetType() EventType {
	return AutomationPausedEvent
}

type AutomationResumed struct {
	BaseEvent
}

func (a AutomationResumed) GetType() EventType {
	return AutomationResumedEvent
}

type AutomationArchived struct {
	BaseEvent
}

func (a AutomationArchived) GetType() EventType {
	return AutomationArchivedEvent
}

func NewBaseEvent(eventType EventType, automationID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		AutomationID: automationID,
		Metadata:     make(map[string]any),
	}
}
