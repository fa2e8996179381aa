package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"rolecraft/internal/oracle"
)

// Client talks to any OpenAI-compatible chat completion endpoint with
// JSON schema structured output.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
}

var _ oracle.Oracle = (*Client)(nil)

func New(apiKey, baseURL, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required: %w", oracle.ErrUnavailable)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: 0.1,
	}, nil
}

func (c *Client) Decide(ctx context.Context, req oracle.Request) (string, error) {
	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
		Temperature: openai.Float(c.temperature),
	}
	if req.Schema != nil {
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Name,
					Description: openai.String(fmt.Sprintf("structured %s decision", req.Task)),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	response, err := c.client.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", req.Task, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no choices in response", req.Task)
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return "", fmt.Errorf("openai %s: empty response (finish_reason: %s)", req.Task, response.Choices[0].FinishReason)
	}
	return message, nil
}
