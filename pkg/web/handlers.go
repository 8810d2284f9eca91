// Package web provides HTTP handlers and REST API endpoints for automation
// management and event ingest.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/loopworks/cadence/pkg/actions/webhook"
	"github.com/loopworks/cadence/pkg/automation"
	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

const signatureHeader = "X-Cadence-Signature"

type APIHandlers struct {
	automationService *automation.Service
	dispatcher        *engine.Dispatcher
	persistence       persistence.Persistence
	validator         *validator.Validate
}

func NewAPIHandlers(
	automationService *automation.Service,
	dispatcher *engine.Dispatcher,
	store persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		automationService: automationService,
		dispatcher:        dispatcher,
		persistence:       store,
		validator:         validator,
	}
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.automationService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.AutomationStatus(statusStr)
		if !status.IsValid() {
			return badRequest(c, "Invalid status filter: "+statusStr)
		}

		filtered := make([]*models.Automation, 0, len(automations))

		for _, a := range automations {
			if a.Status == status {
				filtered = append(filtered, a)
			}
		}

		automations = filtered
	}

	return c.JSON(fiber.Map{
		"automations": automations,
		"total_count": len(automations),
	})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	result, err := h.automationService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.automationService.Create(c.Context(), &models.Automation{
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Actions:     req.Actions,
		Settings:    req.Settings,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req UpdateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.automationService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Trigger != nil {
		existing.Trigger = req.Trigger
	}

	if req.Actions != nil {
		existing.Actions = req.Actions
	}

	if req.Settings != nil {
		existing.Settings = *req.Settings
	}

	updated, err := h.automationService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if err := h.automationService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishAutomation(c fiber.Ctx) error {
	return h.lifecycle(c, h.automationService.Publish)
}

func (h *APIHandlers) PauseAutomation(c fiber.Ctx) error {
	return h.lifecycle(c, h.automationService.Pause)
}

func (h *APIHandlers) ResumeAutomation(c fiber.Ctx) error {
	return h.lifecycle(c, h.automationService.Resume)
}

func (h *APIHandlers) ArchiveAutomation(c fiber.Ctx) error {
	return h.lifecycle(c, h.automationService.Archive)
}

func (h *APIHandlers) lifecycle(c fiber.Ctx, fn func(ctx context.Context, id string) (*models.Automation, error)) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	result, err := fn(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// IngestEvent accepts one business event and reports the enrollment
// decisions it caused.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	kind := models.TriggerKind(req.Kind)
	if !kind.IsValid() || kind.IsTimeBased() {
		return badRequest(c, "Invalid event kind: "+req.Kind)
	}

	report, err := h.dispatcher.Ingest(c.Context(), &models.Event{
		Kind:     kind,
		EntityID: req.EntityID,
		Snapshot: req.Snapshot,
		Metadata: req.Metadata,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(report)
}

// ReceiveWebhook turns a signed inbound webhook into a webhook_received
// event for the addressed automation. The signature must match the
// automation's secret; unsigned or mis-signed deliveries are dropped.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	target, err := h.automationService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if target.WebhookSecret != "" {
		signature := c.Get(signatureHeader)
		if signature == "" || !webhook.VerifySignature(target.WebhookSecret, c.Body(), signature) {
			return unauthorized(c, "Invalid webhook signature")
		}
	}

	var payload struct {
		EntityID string         `json:"entity_id"`
		Snapshot map[string]any `json:"snapshot,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if payload.EntityID == "" {
		return badRequest(c, "entity_id is required")
	}

	metadata := payload.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}

	if _, ok := metadata["path"]; !ok {
		if path := target.Trigger.ConfigString("path"); path != "" {
			metadata["path"] = path
		}
	}

	report, err := h.dispatcher.Ingest(c.Context(), &models.Event{
		Kind:     models.TriggerKindWebhookReceived,
		EntityID: payload.EntityID,
		Snapshot: payload.Snapshot,
		Metadata: metadata,
	})
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(report)
}

func (h *APIHandlers) GetAutomationStats(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	target, err := h.automationService.GetByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	active, err := h.persistence.Enrollments().CountByAutomation(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(StatsResponse{
		AutomationID: target.ID,
		Status:       string(target.Status),
		Stats:        target.Stats,
		ActiveCount:  active,
		GeneratedAt:  time.Now().UTC(),
	})
}

func (h *APIHandlers) GetAutomationRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.automationService.GetByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	limit := models.RunLogRetention

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid limit: "+limitStr)
		}

		limit = parsed
	}

	logs, err := h.persistence.RunLogs().ListByAutomation(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        logs,
		"total_count": len(logs),
	})
}

func (h *APIHandlers) GetAutomationEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.automationService.GetByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	enrollments, err := h.persistence.Enrollments().ListByAutomation(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"total_count": len(enrollments),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.automationService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Cadence API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Cadence API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
