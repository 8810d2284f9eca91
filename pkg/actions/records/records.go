// Package records integrates with the contact/deal record store: it owns
// the update_record collaborator and serves entity attribute snapshots.
// The engine never writes to the store directly; this service does.
package records

import (
	"context"
	"fmt"
	"time"

	"github.com/loopworks/cadence/pkg/actions/client"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

// Service wraps the record store API.
type Service struct {
	client *client.Client
}

// NewService creates the record store client.
func NewService(baseURL string, timeout time.Duration) (*Service, error) {
	c, err := client.New(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}

	return &Service{client: c}, nil
}

// Snapshot returns the entity's current flat attribute view.
func (s *Service) Snapshot(ctx context.Context, entityID string) (map[string]any, error) {
	return s.client.GetJSON(ctx, "/records/"+entityID+"/snapshot")
}

// UpdateCollaborator is the update_record action collaborator.
type UpdateCollaborator struct {
	service *Service
}

// NewUpdateCollaborator creates the update_record collaborator.
func NewUpdateCollaborator(service *Service) *UpdateCollaborator {
	return &UpdateCollaborator{service: service}
}

func (c *UpdateCollaborator) Kind() models.ActionKind {
	return models.ActionKindUpdateRecord
}

func (c *UpdateCollaborator) Execute(ctx context.Context, req protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	config := req.Action.UpdateRecord

	logger := req.Logger.With("module", "updaterecord_collaborator",
		"record_type", config.RecordType)
	logger.InfoContext(ctx, "Updating record")

	detail, err := c.service.client.PostJSON(ctx, "/records/"+req.EntityID+"/update", map[string]any{
		"record_type": config.RecordType,
		"fields":      config.Fields,
	})
	if err != nil {
		return nil, err
	}

	return &protocol.CollaboratorResult{Detail: detail}, nil
}

func (c *UpdateCollaborator) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Update Record Configuration",
		"properties": map[string]any{
			"record_type": map[string]any{
				"type": "string",
				"enum": []string{"contact", "deal"},
			},
			"fields": map[string]any{
				"type":          "object",
				"description":   "Field patch handed to the record store",
				"minProperties": 1,
			},
		},
		"required": []string{"record_type", "fields"},
	}
}
