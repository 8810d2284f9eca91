package automation

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/cadence/pkg/condition"
	"github.com/loopworks/cadence/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeAutomation(id string, trigger *models.Trigger) *models.Automation {
	return &models.Automation{
		ID:      id,
		Name:    "automation " + id,
		Status:  models.AutomationStatusActive,
		Trigger: trigger,
		Actions: []*models.Action{
			{ID: "a1", Kind: models.ActionKindAddTag, Tag: &models.TagConfig{Tag: "seen"}},
		},
	}
}

func TestMatcherKindAndTarget(t *testing.T) {
	matcher := NewMatcher(testLogger())

	automations := []*models.Automation{
		activeAutomation("form-specific", &models.Trigger{
			Kind:          models.TriggerKindFormSubmitted,
			Configuration: map[string]any{"form_id": "newsletter"},
		}),
		activeAutomation("form-any", &models.Trigger{
			Kind: models.TriggerKindFormSubmitted,
		}),
		activeAutomation("tag", &models.Trigger{
			Kind:          models.TriggerKindTagAdded,
			Configuration: map[string]any{"tag": "vip"},
		}),
	}

	event := &models.Event{
		Kind:     models.TriggerKindFormSubmitted,
		EntityID: "contact-1",
		Metadata: map[string]any{"form_id": "newsletter"},
	}

	results := matcher.Match(event, automations)
	require.Len(t, results, 2)
	assert.Equal(t, "form-specific", results[0].Automation.ID)
	assert.Equal(t, "form-any", results[1].Automation.ID)
}

func TestMatcherSkipsInactiveAutomations(t *testing.T) {
	matcher := NewMatcher(testLogger())

	draft := activeAutomation("draft", &models.Trigger{Kind: models.TriggerKindTagAdded})
	draft.Status = models.AutomationStatusDraft

	paused := activeAutomation("paused", &models.Trigger{Kind: models.TriggerKindTagAdded})
	paused.Status = models.AutomationStatusPaused

	event := &models.Event{
		Kind:     models.TriggerKindTagAdded,
		EntityID: "contact-1",
		Metadata: map[string]any{"tag": "vip"},
	}

	results := matcher.Match(event, []*models.Automation{draft, paused})
	assert.Empty(t, results)
}

func TestMatcherFilterGatesEnrollment(t *testing.T) {
	matcher := NewMatcher(testLogger())

	automations := []*models.Automation{
		activeAutomation("filtered", &models.Trigger{
			Kind: models.TriggerKindFormSubmitted,
			Filter: &condition.Expression{
				Combinator: condition.CombinatorAnd,
				Clauses: []condition.Clause{
					{Field: "country", Operator: condition.OperatorEquals, Value: "BR"},
				},
			},
		}),
	}

	matched := matcher.Match(&models.Event{
		Kind:     models.TriggerKindFormSubmitted,
		EntityID: "contact-1",
		Snapshot: map[string]any{"country": "BR"},
	}, automations)
	require.Len(t, matched, 1)

	rejected := matcher.Match(&models.Event{
		Kind:     models.TriggerKindFormSubmitted,
		EntityID: "contact-2",
		Snapshot: map[string]any{"country": "US"},
	}, automations)
	assert.Empty(t, rejected)

	// A missing snapshot field never matches an equals clause.
	missing := matcher.Match(&models.Event{
		Kind:     models.TriggerKindFormSubmitted,
		EntityID: "contact-3",
		Snapshot: map[string]any{},
	}, automations)
	assert.Empty(t, missing)
}

func TestMatcherPageViewWildcard(t *testing.T) {
	matcher := NewMatcher(testLogger())

	automations := []*models.Automation{
		activeAutomation("pricing", &models.Trigger{
			Kind:          models.TriggerKindPageView,
			Configuration: map[string]any{"path": "/pricing/*"},
		}),
	}

	matched := matcher.Match(&models.Event{
		Kind:     models.TriggerKindPageView,
		EntityID: "contact-1",
		Metadata: map[string]any{"path": "/pricing/enterprise"},
	}, automations)
	require.Len(t, matched, 1)

	other := matcher.Match(&models.Event{
		Kind:     models.TriggerKindPageView,
		EntityID: "contact-1",
		Metadata: map[string]any{"path": "/blog/post"},
	}, automations)
	assert.Empty(t, other)
}

func TestMatcherScheduleNeverMatchesInboundEvents(t *testing.T) {
	matcher := NewMatcher(testLogger())

	automations := []*models.Automation{
		activeAutomation("nightly", &models.Trigger{
			Kind:          models.TriggerKindSchedule,
			Configuration: map[string]any{"cron": "0 9 * * *"},
		}),
	}

	results := matcher.Match(&models.Event{
		Kind:     models.TriggerKindSchedule,
		EntityID: "contact-1",
	}, automations)
	assert.Empty(t, results)
}

func TestMatcherIsDeterministic(t *testing.T) {
	matcher := NewMatcher(testLogger())

	automations := []*models.Automation{
		activeAutomation("a", &models.Trigger{Kind: models.TriggerKindTagAdded}),
		activeAutomation("b", &models.Trigger{Kind: models.TriggerKindTagAdded}),
	}

	event := &models.Event{
		Kind:     models.TriggerKindTagAdded,
		EntityID: "contact-1",
		Metadata: map[string]any{"tag": "vip"},
	}

	first := matcher.Match(event, automations)

	for range 10 {
		again := matcher.Match(event, automations)
		require.Len(t, again, len(first))

		for i := range again {
			assert.Equal(t, first[i].Automation.ID, again[i].Automation.ID)
		}
	}
}
