package models

import "time"

// Event is one inbound business event: a kind, a flat read-only snapshot of
// the entity's attributes at event time, and kind-specific metadata such as
// which form was submitted or which tag was added.
type Event struct {
	ID         string         `json:"id"`
	Kind       TriggerKind    `json:"kind"      validate:"required"`
	EntityID   string         `json:"entity_id" validate:"required"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// MetaString returns a string metadata value, or "" when absent.
func (e *Event) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}

	value, _ := e.Metadata[key].(string)

	return value
}
