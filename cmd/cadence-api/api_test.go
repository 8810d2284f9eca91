package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/cadence/pkg/lock"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence/file"
	"github.com/loopworks/cadence/pkg/registry"
)

func setupTestApp(tempDir string) *fiber.App {
	persistence := file.NewPersistence(tempDir)

	api := NewAPI(
		slog.Default(),
		persistence,
		registry.NewRegistry(slog.Default()),
		nil,
		nil,
		lock.NewMemoryLocker(),
	)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	tempDir := t.TempDir()
	app := setupTestApp(tempDir)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Cadence API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	tempDir := t.TempDir()
	app := setupTestApp(tempDir)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_GetAutomations_Empty(t *testing.T) {
	tempDir := t.TempDir()
	app := setupTestApp(tempDir)

	req := httptest.NewRequest(http.MethodGet, "/automations/", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Automations []*models.Automation `json:"automations"`
		TotalCount  int                  `json:"total_count"`
	}

	err = json.NewDecoder(resp.Body).Decode(&listing)
	require.NoError(t, err)
	assert.Empty(t, listing.Automations)
	assert.Zero(t, listing.TotalCount)
}

func TestAPI_GetAutomations_WithData(t *testing.T) {
	tempDir := t.TempDir()
	persistence := file.NewPersistence(tempDir)

	seeded := &models.Automation{
		ID:      "seeded-automation",
		Name:    "Seeded Automation",
		Status:  models.AutomationStatusDraft,
		Trigger: &models.Trigger{Kind: models.TriggerKindFormSubmitted},
		Actions: []*models.Action{
			{
				ID:          "send",
				Kind:        models.ActionKindSendMessage,
				SendMessage: &models.SendMessageConfig{TemplateID: "welcome"},
			},
		},
	}
	require.NoError(t, persistence.Automations().Save(context.Background(), seeded))

	app := setupTestApp(tempDir)

	req := httptest.NewRequest(http.MethodGet, "/automations/seeded-automation", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Automation

	err = json.NewDecoder(resp.Body).Decode(&fetched)
	require.NoError(t, err)
	assert.Equal(t, "seeded-automation", fetched.ID)
	assert.Equal(t, "Seeded Automation", fetched.Name)
	require.Len(t, fetched.Actions, 1)
	assert.Equal(t, models.ActionKindSendMessage, fetched.Actions[0].Kind)
}

func TestAPI_CORS_Headers(t *testing.T) {
	tempDir := t.TempDir()
	app := setupTestApp(tempDir)

	req := httptest.NewRequest(http.MethodOptions, "/automations/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
