package models

import (
	"time"

	"github.com/loopworks/cadence/pkg/condition"
)

// ActionKind tags a node in the action graph. The set is closed: the graph
// executor dispatches with an exhaustive switch, and unknown kinds are a
// publish-time error.
type ActionKind string

const (
	// Mutating kinds executed through external collaborators.
	ActionKindSendMessage  ActionKind = "send_message"
	ActionKindUpdateRecord ActionKind = "update_record"
	ActionKindAddTag       ActionKind = "add_tag"
	ActionKindRemoveTag    ActionKind = "remove_tag"
	ActionKindNotify       ActionKind = "notify"
	ActionKindWebhook      ActionKind = "webhook"

	// Flow-control kinds handled inside the engine.
	ActionKindWait      ActionKind = "wait"
	ActionKindCondition ActionKind = "condition"
	ActionKindSplit     ActionKind = "split"
	ActionKindGoto      ActionKind = "goto"
)

// IsValid checks if the action kind is valid.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionKindSendMessage, ActionKindUpdateRecord, ActionKindAddTag,
		ActionKindRemoveTag, ActionKindNotify, ActionKindWebhook,
		ActionKindWait, ActionKindCondition, ActionKindSplit, ActionKindGoto:
		return true
	default:
		return false
	}
}

// IsMutating reports whether the kind performs an effect through an
// external collaborator.
func (k ActionKind) IsMutating() bool {
	switch k {
	case ActionKindSendMessage, ActionKindUpdateRecord, ActionKindAddTag,
		ActionKindRemoveTag, ActionKindNotify, ActionKindWebhook:
		return true
	default:
		return false
	}
}

// SendMessageConfig configures the send_message action.
type SendMessageConfig struct {
	TemplateID string            `json:"template_id" validate:"required"`
	Channel    string            `json:"channel,omitempty"` // email, sms; defaults to email
	Variables  map[string]string `json:"variables,omitempty"`
}

// UpdateRecordConfig configures the update_record action. The record store
// owns the write; the engine only hands over the field patch.
type UpdateRecordConfig struct {
	RecordType string         `json:"record_type" validate:"required,oneof=contact deal"`
	Fields     map[string]any `json:"fields"      validate:"required,min=1"`
}

// TagConfig configures add_tag and remove_tag actions.
type TagConfig struct {
	Tag string `json:"tag" validate:"required"`
}

// NotifyConfig configures the internal notification action.
type NotifyConfig struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// WebhookConfig configures the outbound webhook action.
type WebhookConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Secret  string            `json:"secret,omitempty"` // payload signing key
}

// WaitConfig configures the wait action, the engine's single suspension
// point.
type WaitConfig struct {
	Duration time.Duration `json:"duration" validate:"required,min=1000000000"`
}

// ConditionConfig configures the condition action. An empty branch list
// means end of graph for that path.
type ConditionConfig struct {
	Expression  *condition.Expression `json:"expression" validate:"required"`
	TrueBranch  []string              `json:"true_branch,omitempty"`
	FalseBranch []string              `json:"false_branch,omitempty"`
}

// SplitBranch is one arm of an A/B split.
type SplitBranch struct {
	Name    string   `json:"name"   validate:"required"`
	Weight  int      `json:"weight" validate:"min=1"`
	Actions []string `json:"actions,omitempty"`
}

// SplitConfig configures the split action. Assignment is a deterministic
// hash of the enrollment id, so a resumed enrollment always lands on the
// same branch.
type SplitConfig struct {
	Branches []SplitBranch `json:"branches" validate:"required,min=2,dive"`
}

// GotoConfig configures the goto action.
type GotoConfig struct {
	Target string `json:"target" validate:"required"`
}

// Action is one node of the workflow graph: a stable id, a kind tag, the
// kind's configuration variant and graph linkage. Exactly one configuration
// variant must be set, matching Kind.
type Action struct {
	ID   string     `json:"id"   validate:"required"`
	Kind ActionKind `json:"kind" validate:"required"`
	Name string     `json:"name,omitempty"`

	// Next is the linear successor for non-branching kinds. "" ends the
	// graph path.
	Next string `json:"next,omitempty"`

	SendMessage  *SendMessageConfig  `json:"send_message,omitempty"`
	UpdateRecord *UpdateRecordConfig `json:"update_record,omitempty"`
	Tag          *TagConfig          `json:"tag,omitempty"`
	Notify       *NotifyConfig       `json:"notify,omitempty"`
	Webhook      *WebhookConfig      `json:"webhook,omitempty"`
	Wait         *WaitConfig         `json:"wait,omitempty"`
	Condition    *ConditionConfig    `json:"condition,omitempty"`
	Split        *SplitConfig        `json:"split,omitempty"`
	Goto         *GotoConfig         `json:"goto,omitempty"`
}

// Successors returns every action id this node can point at, used by
// publish-time graph validation.
func (a *Action) Successors() []string {
	var ids []string

	if a.Next != "" {
		ids = append(ids, a.Next)
	}

	if a.Condition != nil {
		ids = append(ids, a.Condition.TrueBranch...)
		ids = append(ids, a.Condition.FalseBranch...)
	}

	if a.Split != nil {
		for _, branch := range a.Split.Branches {
			ids = append(ids, branch.Actions...)
		}
	}

	if a.Goto != nil && a.Goto.Target != "" {
		ids = append(ids, a.Goto.Target)
	}

	return ids
}
