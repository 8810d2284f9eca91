// Package automation owns the automation definitions: CRUD, lifecycle
// transitions, publish-time validation and trigger matching.
package automation

import (
	"log/slog"
	"strings"

	"github.com/loopworks/cadence/pkg/condition"
	"github.com/loopworks/cadence/pkg/models"
)

// Matcher decides which active automations an inbound entity event should
// enroll into. Matching is pure: it reads the event and the definitions and
// performs no I/O, so the same inputs always produce the same matches.
type Matcher struct {
	logger *slog.Logger
}

// MatchResult pairs a matched automation with the reason it matched.
type MatchResult struct {
	Automation *models.Automation
	Reason     string
}

// NewMatcher creates a new trigger matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Match finds the active automations whose trigger accepts the event. The
// trigger kind must equal the event kind, the kind-specific target must
// match, and the trigger filter (when present) must evaluate true against
// the event snapshot.
func (m *Matcher) Match(event *models.Event, automations []*models.Automation) []MatchResult {
	var results []MatchResult

	m.logger.Debug("Matching entity event against automations",
		"event_kind", event.Kind,
		"entity_id", event.EntityID,
		"automations_count", len(automations))

	for _, automation := range automations {
		if automation.Status != models.AutomationStatusActive {
			continue
		}

		trigger := automation.Trigger
		if trigger == nil || trigger.Kind != event.Kind {
			continue
		}

		reason, ok := m.matchTarget(event, trigger)
		if !ok {
			continue
		}

		if trigger.Filter != nil {
			result := condition.Evaluate(trigger.Filter, event.Snapshot)
			if !result.Match {
				continue
			}
		}

		results = append(results, MatchResult{Automation: automation, Reason: reason})
		m.logger.Debug("Found matching automation",
			"automation_id", automation.ID,
			"automation_name", automation.Name,
			"reason", reason)
	}

	m.logger.Info("Completed trigger matching",
		"event_kind", event.Kind,
		"entity_id", event.EntityID,
		"matches_found", len(results))

	return results
}

// matchTarget checks the kind-specific trigger target against the event
// metadata. A trigger that names no target matches every event of its kind.
func (m *Matcher) matchTarget(event *models.Event, trigger *models.Trigger) (string, bool) {
	switch trigger.Kind {
	case models.TriggerKindFormSubmitted:
		return m.matchExact(trigger, event, "form_id")
	case models.TriggerKindEmailOpened:
		return m.matchExact(trigger, event, "message_id")
	case models.TriggerKindDealStageChanged:
		return m.matchExact(trigger, event, "stage")
	case models.TriggerKindTagAdded:
		return m.matchExact(trigger, event, "tag")
	case models.TriggerKindPageView:
		return m.matchPath(trigger, event)
	case models.TriggerKindWebhookReceived:
		return m.matchExact(trigger, event, "path")
	case models.TriggerKindSchedule:
		// Schedule triggers fire on the clock, never on inbound events.
		return "", false
	default:
		m.logger.Warn("Unknown trigger kind", "kind", trigger.Kind)

		return "", false
	}
}

func (m *Matcher) matchExact(trigger *models.Trigger, event *models.Event, key string) (string, bool) {
	target := trigger.ConfigString(key)
	if target == "" {
		return "any " + key, true
	}

	if event.MetaString(key) != target {
		return "", false
	}

	return key + " match: " + target, true
}

func (m *Matcher) matchPath(trigger *models.Trigger, event *models.Event) (string, bool) {
	pattern := trigger.ConfigString("path")
	if pattern == "" {
		return "any path", true
	}

	path := event.MetaString("path")
	if !matchPattern(path, pattern) {
		return "", false
	}

	return "path match: " + pattern, true
}

// matchPattern performs simple pattern matching (supports one wildcard).
func matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(value, parts[0]) && strings.HasSuffix(value, parts[1])
		}
	}

	return value == pattern
}
