// Package client provides the shared HTTP plumbing for action
// collaborators: JSON requests with bounded timeouts and failure
// classification into transient versus permanent errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loopworks/cadence/pkg/protocol"
)

const DefaultTimeout = 10 * time.Second

var ErrEmptyBaseURL = errors.New("collaborator base URL is required")

// Client is a thin JSON HTTP client for one downstream collaborator
// service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL. A zero timeout falls back
// to DefaultTimeout; every call is bounded.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// PostJSON sends a JSON payload and decodes a JSON object response.
// Timeouts and 5xx responses come back as transient errors; 4xx responses
// are permanent.
func (c *Client) PostJSON(ctx context.Context, path string, payload any) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodPost, path, payload)
}

// DeleteJSON sends a JSON payload with the DELETE method.
func (c *Client) DeleteJSON(ctx context.Context, path string, payload any) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodDelete, path, payload)
}

// GetJSON fetches a JSON object.
func (c *Client) GetJSON(ctx context.Context, path string) (map[string]any, error) {
	return c.doJSON(ctx, http.MethodGet, path, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request payload: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors and timeouts are worth retrying.
		return nil, protocol.Transient(fmt.Errorf("request to %s failed: %w", path, err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Transient(fmt.Errorf("failed to read response from %s: %w", path, err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.Transient(fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s rejected the request with status %d: %s", path, resp.StatusCode, string(responseBody))
	}

	detail := make(map[string]any)

	if len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, &detail); err != nil {
			// A non-JSON success body is fine; keep it as raw detail.
			detail = map[string]any{"body": string(responseBody)}
		}
	}

	return detail, nil
}
