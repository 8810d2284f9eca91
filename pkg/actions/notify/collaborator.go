// Package notify implements the internal notification collaborator.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/loopworks/cadence/pkg/actions/client"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

// Collaborator posts an in-app notification to a platform user, typically
// the contact's owner.
type Collaborator struct {
	client *client.Client
}

// New creates the notify collaborator.
func New(baseURL string, timeout time.Duration) (*Collaborator, error) {
	c, err := client.New(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}

	return &Collaborator{client: c}, nil
}

func (c *Collaborator) Kind() models.ActionKind {
	return models.ActionKindNotify
}

func (c *Collaborator) Execute(ctx context.Context, req protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	config := req.Action.Notify

	logger := req.Logger.With("module", "notify_collaborator", "user_id", config.UserID)
	logger.InfoContext(ctx, "Sending internal notification")

	detail, err := c.client.PostJSON(ctx, "/notifications", map[string]any{
		"user_id":    config.UserID,
		"message":    config.Message,
		"contact_id": req.EntityID,
	})
	if err != nil {
		return nil, err
	}

	return &protocol.CollaboratorResult{Detail: detail}, nil
}

func (c *Collaborator) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Notify Configuration",
		"properties": map[string]any{
			"user_id": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
			"message": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
		"required": []string{"user_id", "message"},
	}
}
