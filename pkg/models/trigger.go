package models

import "github.com/loopworks/cadence/pkg/condition"

// TriggerKind tags what causes new enrollments: a business event or a
// recurring schedule.
type TriggerKind string

const (
	TriggerKindFormSubmitted    TriggerKind = "form_submitted"
	TriggerKindEmailOpened      TriggerKind = "email_opened"
	TriggerKindDealStageChanged TriggerKind = "deal_stage_changed"
	TriggerKindTagAdded         TriggerKind = "tag_added"
	TriggerKindPageView         TriggerKind = "page_view"
	TriggerKindWebhookReceived  TriggerKind = "webhook_received"
	TriggerKindSchedule         TriggerKind = "schedule"
)

// IsValid checks if the trigger kind is valid.
func (k TriggerKind) IsValid() bool {
	switch k {
	case TriggerKindFormSubmitted, TriggerKindEmailOpened,
		TriggerKindDealStageChanged, TriggerKindTagAdded,
		TriggerKindPageView, TriggerKindWebhookReceived, TriggerKindSchedule:
		return true
	default:
		return false
	}
}

// IsTimeBased reports whether the trigger fires on a clock instead of an
// inbound event.
func (k TriggerKind) IsTimeBased() bool {
	return k == TriggerKindSchedule
}

// Trigger describes what starts an enrollment: a kind, kind-specific
// configuration (which form, which tag, a cron expression) and an optional
// filter evaluated against the triggering entity's attributes.
type Trigger struct {
	Kind          TriggerKind           `json:"kind" validate:"required"`
	Configuration map[string]any        `json:"configuration,omitempty"`
	Filter        *condition.Expression `json:"filter,omitempty"`
}

// ConfigString returns a string configuration value, or "" when absent.
func (t *Trigger) ConfigString(key string) string {
	if t.Configuration == nil {
		return ""
	}

	value, _ := t.Configuration[key].(string)

	return value
}
