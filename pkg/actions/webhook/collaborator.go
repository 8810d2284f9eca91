// Package webhook implements the outbound webhook collaborator.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/protocol"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 3
	retryDelay      = time.Second
)

// Collaborator delivers enrollment payloads to a configured external URL.
// Unlike the other collaborators it has its own small retry loop, since
// arbitrary receiver endpoints flake more than our internal services.
type Collaborator struct {
	http     *http.Client
	attempts int
	sleep    func(time.Duration)
}

// New creates the webhook collaborator.
func New(timeout time.Duration) *Collaborator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Collaborator{
		http:     &http.Client{Timeout: timeout},
		attempts: defaultAttempts,
		sleep:    time.Sleep,
	}
}

func (c *Collaborator) Kind() models.ActionKind {
	return models.ActionKindWebhook
}

func (c *Collaborator) Execute(ctx context.Context, req protocol.CollaboratorRequest) (*protocol.CollaboratorResult, error) {
	config := req.Action.Webhook

	method := config.Method
	if method == "" {
		method = http.MethodPost
	}

	logger := req.Logger.With("module", "webhook_collaborator", "url", config.URL)
	logger.InfoContext(ctx, "Calling outbound webhook")

	payload, err := json.Marshal(map[string]any{
		"automation_id": req.AutomationID,
		"enrollment_id": req.EnrollmentID,
		"entity_id":     req.EntityID,
		"snapshot":      req.Snapshot,
		"sent_at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("Webhook retry attempt %d/%d", attempt, c.attempts))
			c.sleep(retryDelay)
		}

		status, retryable, err := c.deliver(ctx, method, config, payload)
		if err == nil {
			return &protocol.CollaboratorResult{Detail: map[string]any{"status_code": status}}, nil
		}

		lastErr = err

		if !retryable {
			return nil, err
		}
	}

	return nil, protocol.Transient(fmt.Errorf("webhook delivery failed after %d attempts: %w", c.attempts, lastErr))
}

func (c *Collaborator) deliver(ctx context.Context, method string, config *models.WebhookConfig, payload []byte) (int, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, config.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, false, fmt.Errorf("failed to build webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for key, value := range config.Headers {
		httpReq.Header.Set(key, value)
	}

	if config.Secret != "" {
		httpReq.Header.Set("X-Cadence-Signature", Sign(config.Secret, payload))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, true, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, true, fmt.Errorf("webhook receiver returned status %d", resp.StatusCode)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, false, fmt.Errorf("webhook receiver rejected the request with status %d", resp.StatusCode)
	}

	return resp.StatusCode, false, nil
}

func (c *Collaborator) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Outbound Webhook Configuration",
		"properties": map[string]any{
			"url": map[string]any{
				"type":   "string",
				"format": "uri",
			},
			"method": map[string]any{
				"type": "string",
				"enum": []string{"POST", "PUT", "PATCH"},
			},
			"headers": map[string]any{
				"type": "object",
			},
			"secret": map[string]any{
				"type":        "string",
				"description": "HMAC-SHA256 signing key for the payload",
			},
		},
		"required": []string{"url"},
	}
}

// Sign computes the hex HMAC-SHA256 signature used for both outbound
// payloads and inbound webhook verification.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound payload signature in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)

	return hmac.Equal([]byte(expected), []byte(signature))
}
