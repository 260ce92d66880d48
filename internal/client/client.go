// Package client is an HTTP client for the assignd API, used by the
// assignctl CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/perceptionlab/assignd/internal/engine"
	"github.com/perceptionlab/assignd/internal/store"
)

// Client is an HTTP client for the assignd API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AssignResult is the response of POST /api/assign.
type AssignResult struct {
	Condition string `json:"condition"`
	Status    string `json:"status"`
}

// Assign requests a condition assignment for the given participant.
func (c *Client) Assign(ctx context.Context, participantID string) (*AssignResult, error) {
	body, err := json.Marshal(map[string]string{"participantId": participantID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/assign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result AssignResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Complete marks the given participant's assignment as completed.
func (c *Client) Complete(ctx context.Context, participantID string) error {
	body, err := json.Marshal(map[string]string{"participantId": participantID})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/complete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

// StatusResult is the response of GET /api/status.
type StatusResult struct {
	Policy     string                 `json:"policy"`
	Conditions []engine.ConditionLoad `json:"conditions"`
}

// Status retrieves the per-condition load breakdown.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	var result StatusResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Export retrieves the raw persisted assignment state.
func (c *Client) Export(ctx context.Context) (*store.State, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/export", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	var state store.State
	if err := c.do(req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListData retrieves the archived submission filenames.
func (c *Client) ListData(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/list_data", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	var names []string
	if err := c.do(req, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// GetData retrieves one archived submission CSV.
func (c *Client) GetData(ctx context.Context, filename string) ([]byte, error) {
	u, err := url.Parse(c.BaseURL + "/api/get_data/" + url.PathEscape(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return io.ReadAll(resp.Body)
}

// do executes the request and decodes a JSON response into out (if non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
