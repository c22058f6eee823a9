// Package openaioracle classifies flows with an OpenAI-compatible chat completion API.
package openaioracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"threatlens/internal/oracle"
)

const instructions = "You are a network security analyst. Classify the following network flow as Benign, Suspicious or Malicious. " +
	"Answer with a line \"### Classification: <label>\" followed by a line \"recommended security measures:\" " +
	"and one measure per line.\n\n"

// Config configures the chat completion client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client is an oracle backed by go-openai.
type Client struct {
	model  string
	client *openai.Client
}

var _ oracle.Oracle = (*Client)(nil)

// New creates a client; BaseURL overrides the default endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is not configured")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &Client{model: model, client: openai.NewClientWithConfig(clientConfig)}, nil
}

// Classify returns the first choice's content.
func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: instructions + prompt,
			},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timeout: %w", err)
		}
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
