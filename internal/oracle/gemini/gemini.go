package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"rolecraft/internal/oracle"
)

const DefaultModel = "gemini-2.5-flash"

type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ oracle.Oracle = (*Client)(nil)

func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required: %w", oracle.ErrUnavailable)
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Client{client: client, model: model, temperature: 0.2}, nil
}

// generateConfig asks for JSON and, when the request carries one, constrains
// the response to its schema.
func (c *Client) generateConfig(req oracle.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature),
		ResponseMIMEType: "application/json",
	}
	if req.Schema != nil {
		cfg.ResponseJsonSchema = req.Schema
	}
	return cfg
}

func (c *Client) Decide(ctx context.Context, req oracle.Request) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), c.generateConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", req.Task, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini %s: empty response", req.Task)
	}
	return text, nil
}
