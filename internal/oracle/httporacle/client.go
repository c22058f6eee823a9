// Package httporacle calls a classification service over plain HTTP.
package httporacle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"threatlens/internal/oracle"
)

// Config configures the HTTP oracle.
type Config struct {
	URL     string
	Headers map[string]string
}

// Client posts {"log_data": prompt} and reads {"response": text}.
type Client struct {
	url     string
	headers map[string]string
	client  *http.Client
}

var _ oracle.Oracle = (*Client)(nil)

type request struct {
	LogData string `json:"log_data"`
}

type response struct {
	Response string `json:"response"`
}

// New creates an HTTP oracle. Timeouts come from the caller's context.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("oracle URL is empty")
	}
	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{},
	}, nil
}

// Classify sends the prompt and returns the response text.
func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(request{LogData: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("oracle request failed with status %s", resp.Status)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode oracle response: %w", err)
	}
	return out.Response, nil
}
