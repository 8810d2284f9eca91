package enrollment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAutomation(t *testing.T, store *testutil.MemoryPersistence, settings models.Settings) *models.Automation {
	t.Helper()

	automation := &models.Automation{
		ID:     "a-1",
		Name:   "welcome series",
		Status: models.AutomationStatusActive,
		Trigger: &models.Trigger{
			Kind: models.TriggerKindFormSubmitted,
		},
		Actions: []*models.Action{
			{ID: "tag", Kind: models.ActionKindAddTag, Tag: &models.TagConfig{Tag: "welcomed"}},
		},
		Settings: settings,
	}
	require.NoError(t, store.Automations().Save(context.Background(), automation))

	return automation
}

func TestEnrollCreatesActiveEnrollment(t *testing.T) {
	store := testutil.NewMemoryPersistence()
	automation := seedAutomation(t, store, models.Settings{})
	manager := NewManager(store, nil, testLogger())

	snapshot := map[string]any{"email": "ada@example.com"}

	enrollment, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", snapshot)
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NotNil(t, enrollment)

	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, "contact-1", enrollment.EntityID)
	assert.Equal(t, snapshot, enrollment.Snapshot)
	assert.Empty(t, enrollment.CurrentActionID)
	assert.Nil(t, enrollment.ResumeAt)
}

func TestEnrollRejectsInactiveAutomation(t *testing.T) {
	store := testutil.NewMemoryPersistence()
	automation := seedAutomation(t, store, models.Settings{})
	automation.Status = models.AutomationStatusPaused
	manager := NewManager(store, nil, testLogger())

	enrollment, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
	require.NoError(t, err)
	assert.Nil(t, enrollment)
	assert.Equal(t, RejectionAutomationInactive, reason)

	stored, err := store.Automations().GetByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.Stats.Rejected)
}

func TestEnrollActiveDuplicate(t *testing.T) {
	t.Run("rejected without allow_reentry", func(t *testing.T) {
		store := testutil.NewMemoryPersistence()
		automation := seedAutomation(t, store, models.Settings{})
		manager := NewManager(store, nil, testLogger())

		_, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		require.Empty(t, reason)

		enrollment, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		assert.Nil(t, enrollment)
		assert.Equal(t, RejectionAlreadyEnrolled, reason)
	})

	t.Run("concurrent with allow_reentry", func(t *testing.T) {
		store := testutil.NewMemoryPersistence()
		automation := seedAutomation(t, store, models.Settings{AllowReentry: true})
		manager := NewManager(store, nil, testLogger())

		first, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		require.Empty(t, reason)

		second, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		require.Empty(t, reason)
		require.NotNil(t, second)

		// Distinct records with independent cursors.
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, models.EnrollmentStatusActive, second.Status)

		stored, err := store.Automations().GetByID(context.Background(), automation.ID)
		require.NoError(t, err)
		assert.Zero(t, stored.Stats.Rejected)
	})
}

func TestEnrollReentryPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("suppressed without allow_reentry", func(t *testing.T) {
		store := testutil.NewMemoryPersistence()
		automation := seedAutomation(t, store, models.Settings{})
		manager := NewManager(store, nil, testLogger()).WithClock(func() time.Time { return now })

		first, _, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		require.NoError(t, manager.Terminate(context.Background(), first, models.EnrollmentStatusCompleted, "path_end"))

		_, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		assert.Equal(t, RejectionReentrySuppressed, reason)
	})

	t.Run("delayed within reentry_delay", func(t *testing.T) {
		store := testutil.NewMemoryPersistence()
		automation := seedAutomation(t, store, models.Settings{
			AllowReentry: true,
			ReentryDelay: 24 * time.Hour,
		})

		clock := now
		manager := NewManager(store, nil, testLogger()).WithClock(func() time.Time { return clock })

		first, _, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		require.NoError(t, manager.Terminate(context.Background(), first, models.EnrollmentStatusCompleted, "path_end"))

		clock = now.Add(time.Hour)
		_, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		assert.Equal(t, RejectionReentryDelay, reason)

		clock = now.Add(25 * time.Hour)
		enrollment, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		assert.Empty(t, reason)
		assert.NotNil(t, enrollment)
	})

	t.Run("capacity reached at max_executions", func(t *testing.T) {
		store := testutil.NewMemoryPersistence()
		automation := seedAutomation(t, store, models.Settings{
			AllowReentry:  true,
			MaxExecutions: 2,
		})
		manager := NewManager(store, nil, testLogger()).WithClock(func() time.Time { return now })

		for range 2 {
			e, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
			require.NoError(t, err)
			require.Empty(t, reason)
			require.NoError(t, manager.Terminate(context.Background(), e, models.EnrollmentStatusCompleted, "path_end"))
		}

		_, reason, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
		require.NoError(t, err)
		assert.Equal(t, RejectionCapacityReached, reason)
	})
}

func TestFindDueDefersOutsideActiveWindow(t *testing.T) {
	store := testutil.NewMemoryPersistence()
	automation := seedAutomation(t, store, models.Settings{
		ActiveHours: &models.HourWindow{From: 9, To: 17},
	})
	manager := NewManager(store, nil, testLogger())

	// Due at 20:00, outside the 9-17 window.
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	resumeAt := now.Add(-time.Minute)

	enrollment := &models.Enrollment{
		ID:              "e-1",
		AutomationID:    automation.ID,
		EntityID:        "contact-1",
		Status:          models.EnrollmentStatusActive,
		CurrentActionID: "tag",
		ResumeAt:        &resumeAt,
		EnrolledAt:      now.Add(-time.Hour),
	}
	require.NoError(t, store.Enrollments().Create(context.Background(), enrollment))

	due, err := manager.FindDue(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)

	deferred, err := store.Enrollments().GetByID(context.Background(), "e-1")
	require.NoError(t, err)
	require.NotNil(t, deferred.ResumeAt)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), deferred.ResumeAt.UTC())

	// Inside the window the enrollment is runnable.
	inWindow := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	due, err = manager.FindDue(context.Background(), inWindow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e-1", due[0].ID)
}

func TestFindDueSkipsPausedAutomations(t *testing.T) {
	store := testutil.NewMemoryPersistence()
	automation := seedAutomation(t, store, models.Settings{})
	manager := NewManager(store, nil, testLogger())

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	resumeAt := now.Add(-time.Minute)

	enrollment := &models.Enrollment{
		ID:              "e-1",
		AutomationID:    automation.ID,
		EntityID:        "contact-1",
		Status:          models.EnrollmentStatusActive,
		CurrentActionID: "tag",
		ResumeAt:        &resumeAt,
		EnrolledAt:      now.Add(-time.Hour),
	}
	require.NoError(t, store.Enrollments().Create(context.Background(), enrollment))

	automation.Status = models.AutomationStatusPaused
	require.NoError(t, store.Automations().Save(context.Background(), automation))

	due, err := manager.FindDue(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)

	// ResumeAt stays put while parked.
	parked, err := store.Enrollments().GetByID(context.Background(), "e-1")
	require.NoError(t, err)
	require.NotNil(t, parked.ResumeAt)
	assert.Equal(t, resumeAt, parked.ResumeAt.UTC())

	automation.Status = models.AutomationStatusActive
	require.NoError(t, store.Automations().Save(context.Background(), automation))

	due, err = manager.FindDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "e-1", due[0].ID)
}

func TestTerminateIsFinal(t *testing.T) {
	store := testutil.NewMemoryPersistence()
	automation := seedAutomation(t, store, models.Settings{})
	manager := NewManager(store, nil, testLogger())

	enrollment, _, err := manager.Enroll(context.Background(), automation, "contact-1", "form_submitted", nil)
	require.NoError(t, err)

	require.Error(t, manager.Terminate(context.Background(), enrollment, models.EnrollmentStatusActive, "nope"))

	require.NoError(t, manager.Terminate(context.Background(), enrollment, models.EnrollmentStatusCancelled, "automation_archived"))
	assert.Equal(t, models.EnrollmentStatusCancelled, enrollment.Status)
	assert.NotNil(t, enrollment.CompletedAt)
	assert.Nil(t, enrollment.ResumeAt)
}
