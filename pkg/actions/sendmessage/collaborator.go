// Package sendmessage delivers the send_message action through the
// message-sending service.
package sendmessage

import (
	"context"
	"fmt"
	"time"

	"github.com/loopworks/cadence/pkg/actions/client"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

// Collaborator sends templated messages to a contact. Delivery is
// at-least-once; the template id plus enrollment id form the downstream
// idempotency key.
type Collaborator struct {
	client *client.Client
}

// New creates the send_message collaborator against the message service
// base URL.
func New(baseURL string, timeout time.Duration) (*Collaborator, error) {
	c, err := client.New(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("sendmessage: %w", err)
	}

	return &Collaborator{client: c}, nil
}

func (c *Collaborator) Kind() models.ActionKind {
	return models.ActionKindSendMessage
}

func (c *Collaborator) Execute(ctx context.Context, req protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	config := req.Action.SendMessage

	channel := config.Channel
	if channel == "" {
		channel = "email"
	}

	logger := req.Logger.With("module", "sendmessage_collaborator",
		"template_id", config.TemplateID, "channel", channel)
	logger.InfoContext(ctx, "Sending message")

	detail, err := c.client.PostJSON(ctx, "/messages", map[string]any{
		"template_id":     config.TemplateID,
		"channel":         channel,
		"variables":       config.Variables,
		"contact_id":      req.EntityID,
		"idempotency_key": req.EnrollmentID + ":" + req.Action.ID,
	})
	if err != nil {
		return nil, err
	}

	return &protocol.CollaboratorResult{Detail: detail}, nil
}

func (c *Collaborator) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Send Message Configuration",
		"properties": map[string]any{
			"template_id": map[string]any{
				"type":        "string",
				"description": "Identifier of the message template to render",
				"minLength":   1,
			},
			"channel": map[string]any{
				"type": "string",
				"enum": []string{"email", "sms"},
			},
			"variables": map[string]any{
				"type":        "object",
				"description": "Template variables merged over the entity snapshot",
			},
		},
		"required": []string{"template_id"},
	}
}
