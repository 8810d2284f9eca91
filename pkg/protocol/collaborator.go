// Package protocol defines the contracts between the engine and its
// external collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/loopworks/cadence/pkg/models"
)

// CollaboratorRequest carries one action execution to a collaborator.
type CollaboratorRequest struct {
	AutomationID string
	EnrollmentID string
	EntityID     string
	Action       *models.Action
	Snapshot     map[string]any
	Logger       *slog.Logger
}

// CollaboratorResult is the collaborator's report of a successful effect.
type CollaboratorResult struct {
	Detail map[string]any
}

// Collaborator performs the side effect of one mutating action kind. Calls
// must be bounded by a timeout; retry/backoff specific to the downstream
// service is internal to the collaborator, not the engine.
type Collaborator interface {
	Kind() models.ActionKind
	Execute(ctx context.Context, req CollaboratorRequest) (*CollaboratorResult, error)

	// Schema returns the JSON Schema for the action kind's configuration,
	// validated at automation publish time.
	Schema() map[string]any
}

// SnapshotSource serves the current flat attribute view of an entity from
// the record store. The engine never writes back through it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, entityID string) (map[string]any, error)
}
