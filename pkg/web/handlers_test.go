package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/cadence/pkg/actions/webhook"
	"github.com/loopworks/cadence/pkg/automation"
	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/lock"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
	"github.com/loopworks/cadence/pkg/registry"
	"github.com/loopworks/cadence/pkg/testutil"
	"github.com/loopworks/cadence/pkg/web"
)

type stubCollaborator struct {
	kind  models.ActionKind
	calls int
}

func (s *stubCollaborator) Kind() models.ActionKind { return s.kind }

func (s *stubCollaborator) Execute(_ context.Context, _ protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	s.calls++

	return &protocol.CollaboratorResult{}, nil
}

func (s *stubCollaborator) Schema() map[string]any { return map[string]any{"type": "object"} }

func setupTestApp(t *testing.T) (*fiber.App, *testutil.MemoryPersistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewMemoryPersistence()

	reg := registry.NewRegistry(logger)
	reg.Register(&stubCollaborator{kind: models.ActionKindSendMessage})
	reg.Register(&stubCollaborator{kind: models.ActionKindAddTag})

	manager := enrollment.NewManager(store, nil, logger)
	executor := engine.NewExecutor(
		store, reg, manager, lock.NewMemoryLocker(), nil, nil,
		logger, engine.Config{WorkerID: "web-test"},
	)
	dispatcher := engine.NewDispatcher(
		store, automation.NewMatcher(logger), manager, executor, nil, logger,
	)
	service := automation.NewService(store, reg, nil, logger)

	handlers := web.NewAPIHandlers(service, dispatcher, store,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	a := app.Group("/automations")
	a.Get("/", handlers.GetAutomations)
	a.Post("/", handlers.CreateAutomation)
	a.Get("/:id", handlers.GetAutomation)
	a.Patch("/:id", handlers.UpdateAutomation)
	a.Delete("/:id", handlers.DeleteAutomation)
	a.Post("/:id/publish", handlers.PublishAutomation)
	a.Post("/:id/pause", handlers.PauseAutomation)
	a.Post("/:id/resume", handlers.ResumeAutomation)
	a.Post("/:id/archive", handlers.ArchiveAutomation)
	a.Get("/:id/stats", handlers.GetAutomationStats)
	a.Get("/:id/runs", handlers.GetAutomationRuns)
	a.Get("/:id/enrollments", handlers.GetAutomationEnrollments)

	app.Post("/events", handlers.IngestEvent)
	app.Post("/hooks/:id", handlers.ReceiveWebhook)
	app.Get("/health", handlers.HealthCheck)

	return app, store
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")

	return req
}

func tagAutomation(id string, status models.AutomationStatus, trigger *models.Trigger) *models.Automation {
	return &models.Automation{
		ID:      id,
		Name:    "automation " + id,
		Status:  status,
		Trigger: trigger,
		Actions: []*models.Action{
			{ID: "tag", Kind: models.ActionKindAddTag, Tag: &models.TagConfig{Tag: "engaged"}},
		},
	}
}

func TestAPIHandlers_CreateAutomation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "successful creation",
			requestBody: web.CreateAutomationRequest{
				Name:        "Welcome Sequence",
				Description: "Greets new signups",
				Trigger:     &models.Trigger{Kind: models.TriggerKindFormSubmitted},
				Actions: []*models.Action{
					{
						ID:          "send-welcome",
						Kind:        models.ActionKindSendMessage,
						SendMessage: &models.SendMessageConfig{TemplateID: "welcome"},
					},
				},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var created models.Automation
				require.NoError(t, json.Unmarshal(body, &created))
				assert.Equal(t, "Welcome Sequence", created.Name)
				assert.Equal(t, models.AutomationStatusDraft, created.Status)
				assert.NotEmpty(t, created.ID)
				assert.Nil(t, created.PublishedAt)
			},
		},
		{
			name: "validation error - missing name",
			requestBody: web.CreateAutomationRequest{
				Trigger: &models.Trigger{Kind: models.TriggerKindFormSubmitted},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing trigger",
			requestBody: web.CreateAutomationRequest{
				Name: "No Trigger",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/automations", tt.requestBody))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetAutomation(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	seeded := tagAutomation("a-1", models.AutomationStatusDraft,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	require.NoError(t, store.Automations().Save(context.Background(), seeded))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/automations/a-1", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var found models.Automation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	assert.Equal(t, "a-1", found.ID)

	missing, err := app.Test(httptest.NewRequest(http.MethodGet, "/automations/nope", nil))
	require.NoError(t, err)

	defer func() { _ = missing.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIHandlers_PublishLifecycle(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	draft := tagAutomation("a-1", models.AutomationStatusDraft,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	require.NoError(t, store.Automations().Save(context.Background(), draft))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/automations/a-1/publish", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var published models.Automation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&published))
	assert.Equal(t, models.AutomationStatusActive, published.Status)
	assert.NotNil(t, published.PublishedAt)

	// Publishing again is not a valid transition.
	again, err := app.Test(httptest.NewRequest(http.MethodPost, "/automations/a-1/publish", nil))
	require.NoError(t, err)

	defer func() { _ = again.Body.Close() }()

	assert.Equal(t, http.StatusConflict, again.StatusCode)

	// Published definitions are immutable.
	patch, err := app.Test(jsonRequest(t, http.MethodPatch, "/automations/a-1",
		web.UpdateAutomationRequest{Description: ptr("changed")}))
	require.NoError(t, err)

	defer func() { _ = patch.Body.Close() }()

	assert.Equal(t, http.StatusConflict, patch.StatusCode)

	// Pause, resume, archive.
	for _, step := range []struct {
		path   string
		status models.AutomationStatus
	}{
		{"/automations/a-1/pause", models.AutomationStatusPaused},
		{"/automations/a-1/resume", models.AutomationStatusActive},
		{"/automations/a-1/archive", models.AutomationStatusArchived},
	} {
		stepResp, err := app.Test(httptest.NewRequest(http.MethodPost, step.path, nil))
		require.NoError(t, err)

		defer func() { _ = stepResp.Body.Close() }()

		require.Equal(t, http.StatusOK, stepResp.StatusCode, step.path)

		var after models.Automation
		require.NoError(t, json.NewDecoder(stepResp.Body).Decode(&after))
		assert.Equal(t, step.status, after.Status)
	}
}

func TestAPIHandlers_PublishRejectsInvalidGraph(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	broken := tagAutomation("a-1", models.AutomationStatusDraft,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	broken.Actions[0].Next = "missing-action"
	require.NoError(t, store.Automations().Save(context.Background(), broken))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/automations/a-1/publish", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The draft is untouched.
	stored, err := store.Automations().GetByID(context.Background(), "a-1")
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusDraft, stored.Status)
}

func TestAPIHandlers_DeleteAutomation(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	draft := tagAutomation("a-1", models.AutomationStatusDraft,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	active := tagAutomation("a-2", models.AutomationStatusActive,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	require.NoError(t, store.Automations().Save(context.Background(), draft))
	require.NoError(t, store.Automations().Save(context.Background(), active))

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/automations/a-1", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	denied, err := app.Test(httptest.NewRequest(http.MethodDelete, "/automations/a-2", nil))
	require.NoError(t, err)

	defer func() { _ = denied.Body.Close() }()

	assert.Equal(t, http.StatusConflict, denied.StatusCode)
}

func TestAPIHandlers_IngestEvent(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	active := tagAutomation("a-1", models.AutomationStatusActive,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	require.NoError(t, store.Automations().Save(context.Background(), active))

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/events", web.IngestEventRequest{
		Kind:     "form_submitted",
		EntityID: "contact-1",
		Snapshot: map[string]any{"email": "ada@example.com"},
	}))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var report engine.IngestReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Enrolled)
	require.Len(t, report.Outcomes, 1)
	assert.NotEmpty(t, report.Outcomes[0].EnrollmentID)

	// The single-action graph ran to completion on ingest.
	enr, err := store.Enrollments().GetByID(context.Background(), report.Outcomes[0].EnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, enr.Status)
}

func TestAPIHandlers_IngestEventRejectsBadKinds(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	for _, kind := range []string{"bogus", "schedule"} {
		resp, err := app.Test(jsonRequest(t, http.MethodPost, "/events", web.IngestEventRequest{
			Kind:     kind,
			EntityID: "contact-1",
		}))
		require.NoError(t, err)

		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, kind)
	}
}

func TestAPIHandlers_ReceiveWebhook(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	hooked := tagAutomation("a-1", models.AutomationStatusActive, &models.Trigger{
		Kind:          models.TriggerKindWebhookReceived,
		Configuration: map[string]any{"path": "/lead"},
	})
	hooked.WebhookSecret = "super-secret"
	require.NoError(t, store.Automations().Save(context.Background(), hooked))

	payload, err := json.Marshal(map[string]any{"entity_id": "contact-1"})
	require.NoError(t, err)

	// Unsigned deliveries are dropped.
	unsigned := httptest.NewRequest(http.MethodPost, "/hooks/a-1", bytes.NewBuffer(payload))
	unsigned.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(unsigned)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A correctly signed delivery enrolls.
	signed := httptest.NewRequest(http.MethodPost, "/hooks/a-1", bytes.NewBuffer(payload))
	signed.Header.Set("Content-Type", "application/json")
	signed.Header.Set("X-Cadence-Signature", webhook.Sign("super-secret", payload))

	accepted, err := app.Test(signed)
	require.NoError(t, err)

	defer func() { _ = accepted.Body.Close() }()

	require.Equal(t, http.StatusAccepted, accepted.StatusCode)

	var report engine.IngestReport
	require.NoError(t, json.NewDecoder(accepted.Body).Decode(&report))
	assert.Equal(t, 1, report.Enrolled)
}

func TestAPIHandlers_GetAutomationStats(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	active := tagAutomation("a-1", models.AutomationStatusActive,
		&models.Trigger{Kind: models.TriggerKindFormSubmitted})
	active.Stats = models.Stats{Runs: 4, Successes: 3, Failures: 1}
	require.NoError(t, store.Automations().Save(context.Background(), active))

	enr := &models.Enrollment{
		ID:           "e-1",
		AutomationID: "a-1",
		EntityID:     "contact-1",
		Status:       models.EnrollmentStatusActive,
	}
	require.NoError(t, store.Enrollments().Create(context.Background(), enr))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/automations/a-1/stats", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats web.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "a-1", stats.AutomationID)
	assert.Equal(t, int64(4), stats.Stats.Runs)
	assert.Equal(t, 1, stats.ActiveCount)
}

func TestAPIHandlers_GetAutomations_StatusFilter(t *testing.T) {
	t.Parallel()

	app, store := setupTestApp(t)

	require.NoError(t, store.Automations().Save(context.Background(),
		tagAutomation("a-1", models.AutomationStatusDraft, &models.Trigger{Kind: models.TriggerKindFormSubmitted})))
	require.NoError(t, store.Automations().Save(context.Background(),
		tagAutomation("a-2", models.AutomationStatusActive, &models.Trigger{Kind: models.TriggerKindFormSubmitted})))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/automations/?status=active", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Automations []*models.Automation `json:"automations"`
		TotalCount  int                  `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.TotalCount)
	require.Len(t, listing.Automations, 1)
	assert.Equal(t, "a-2", listing.Automations[0].ID)

	bad, err := app.Test(httptest.NewRequest(http.MethodGet, "/automations/?status=bogus", nil))
	require.NoError(t, err)

	defer func() { _ = bad.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func ptr(s string) *string { return &s }
