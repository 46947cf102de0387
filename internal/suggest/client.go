package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls a text suggestion service at {baseURL}/api/ai/suggest.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a Client. token is sent as a bearer token when set.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type request struct {
	Prompt string `json:"prompt"`
}

type response struct {
	Suggestion string `json:"suggestion"`
	Message    string `json:"message"`
}

// Suggest returns the service's text for prompt.
func (c *Client) Suggest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(request{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ai/suggest", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call suggestion service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	var out response
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Message != "" {
			return "", fmt.Errorf("suggestion service returned status %d: %s", resp.StatusCode, out.Message)
		}
		return "", fmt.Errorf("suggestion service returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if out.Suggestion == "" {
		return "", fmt.Errorf("suggestion service returned an empty suggestion")
	}
	return out.Suggestion, nil
}
