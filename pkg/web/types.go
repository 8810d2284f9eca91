// Package web provides HTTP request and response types for the automation API.
package web

import (
	"time"

	"github.com/loopworks/cadence/pkg/models"
)

// CreateAutomationRequest represents the request body for creating a new automation.
type CreateAutomationRequest struct {
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Trigger     *models.Trigger  `json:"trigger"     validate:"required"`
	Actions     []*models.Action `json:"actions"`
	Settings    models.Settings  `json:"settings"`
}

// UpdateAutomationRequest represents the request body for updating a draft
// automation. All fields are optional to support partial updates.
type UpdateAutomationRequest struct {
	Name        *string          `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string          `json:"description,omitempty"`
	Trigger     *models.Trigger  `json:"trigger,omitempty"`
	Actions     []*models.Action `json:"actions,omitempty"`
	Settings    *models.Settings `json:"settings,omitempty"`
}

// IngestEventRequest represents one inbound entity event.
type IngestEventRequest struct {
	Kind     string         `json:"kind"      validate:"required"`
	EntityID string         `json:"entity_id" validate:"required"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StatsResponse reports an automation's aggregate run counters.
type StatsResponse struct {
	AutomationID string       `json:"automation_id"`
	Status       string       `json:"status"`
	Stats        models.Stats `json:"stats"`
	ActiveCount  int          `json:"active_enrollments"`
	GeneratedAt  time.Time    `json:"generated_at"`
}
