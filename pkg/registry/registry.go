// Package registry maps action kinds to their execution contracts.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

// Registry holds the collaborators for every mutating action kind. It is a
// pure description of what each kind means; executing an action is the
// graph executor's job.
type Registry struct {
	logger        *slog.Logger
	collaborators map[models.ActionKind]protocol.Collaborator
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		collaborators: make(map[models.ActionKind]protocol.Collaborator),
	}
}

// Register adds a collaborator for its declared kind, replacing any
// previous registration.
func (r *Registry) Register(collaborator protocol.Collaborator) {
	r.collaborators[collaborator.Kind()] = collaborator
}

// CollaboratorFor returns the collaborator registered for the kind.
func (r *Registry) CollaboratorFor(kind models.ActionKind) (protocol.Collaborator, error) {
	collaborator, ok := r.collaborators[kind]
	if !ok {
		return nil, fmt.Errorf("action kind '%s' not registered", kind)
	}

	return collaborator, nil
}

// Kinds returns every registered action kind.
func (r *Registry) Kinds() []models.ActionKind {
	kinds := make([]models.ActionKind, 0, len(r.collaborators))
	for kind := range r.collaborators {
		kinds = append(kinds, kind)
	}

	return kinds
}

// ValidateActionConfig checks a mutating action's configuration variant
// against the collaborator's JSON Schema. Flow-control kinds are validated
// structurally by the publishing service instead.
func (r *Registry) ValidateActionConfig(action *models.Action) error {
	if !action.Kind.IsMutating() {
		return nil
	}

	collaborator, err := r.CollaboratorFor(action.Kind)
	if err != nil {
		return err
	}

	config := configVariant(action)
	if config == nil {
		return fmt.Errorf("action %s has no %s configuration", action.ID, action.Kind)
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config for action %s: %w", action.ID, err)
	}

	schemaLoader := gojsonschema.NewGoLoader(collaborator.Schema())
	dataLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed for action %s: %w", action.ID, err)
	}

	if !result.Valid() {
		for _, desc := range result.Errors() {
			return fmt.Errorf("invalid config for action %s (%s): %s", action.ID, action.Kind, desc)
		}
	}

	return nil
}

func configVariant(action *models.Action) any {
	switch action.Kind {
	case models.ActionKindSendMessage:
		if action.SendMessage == nil {
			return nil
		}

		return action.SendMessage
	case models.ActionKindUpdateRecord:
		if action.UpdateRecord == nil {
			return nil
		}

		return action.UpdateRecord
	case models.ActionKindAddTag, models.ActionKindRemoveTag:
		if action.Tag == nil {
			return nil
		}

		return action.Tag
	case models.ActionKindNotify:
		if action.Notify == nil {
			return nil
		}

		return action.Notify
	case models.ActionKindWebhook:
		if action.Webhook == nil {
			return nil
		}

		return action.Webhook
	default:
		return nil
	}
}
