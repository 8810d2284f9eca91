// Package tag implements the add_tag and remove_tag collaborators against
// the tag mutation service.
package tag

import (
	"context"
	"fmt"
	"time"

	"github.com/loopworks/cadence/pkg/actions/client"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

// Collaborator mutates contact tags. The same implementation serves both
// kinds; adding decides the direction.
type Collaborator struct {
	client *client.Client
	kind   models.ActionKind
}

// NewAdd creates the add_tag collaborator.
func NewAdd(baseURL string, timeout time.Duration) (*Collaborator, error) {
	return newCollaborator(baseURL, timeout, models.ActionKindAddTag)
}

// NewRemove creates the remove_tag collaborator.
func NewRemove(baseURL string, timeout time.Duration) (*Collaborator, error) {
	return newCollaborator(baseURL, timeout, models.ActionKindRemoveTag)
}

func newCollaborator(baseURL string, timeout time.Duration, kind models.ActionKind) (*Collaborator, error) {
	c, err := client.New(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}

	return &Collaborator{client: c, kind: kind}, nil
}

func (c *Collaborator) Kind() models.ActionKind {
	return c.kind
}

func (c *Collaborator) Execute(ctx context.Context, req protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	config := req.Action.Tag

	logger := req.Logger.With("module", "tag_collaborator", "tag", config.Tag, "kind", c.kind)
	logger.InfoContext(ctx, "Mutating contact tags")

	payload := map[string]any{"tag": config.Tag}
	path := "/contacts/" + req.EntityID + "/tags"

	var (
		detail map[string]any
		err    error
	)

	if c.kind == models.ActionKindAddTag {
		detail, err = c.client.PostJSON(ctx, path, payload)
	} else {
		detail, err = c.client.DeleteJSON(ctx, path, payload)
	}

	if err != nil {
		return nil, err
	}

	return &protocol.CollaboratorResult{Detail: detail}, nil
}

func (c *Collaborator) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Tag Configuration",
		"properties": map[string]any{
			"tag": map[string]any{
				"type":      "string",
				"minLength": 1,
			},
		},
		"required": []string{"tag"},
	}
}
