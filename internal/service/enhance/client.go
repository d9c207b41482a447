// Package enhance improves finalized transcripts through a chat-completion
// call. Enhancement is best-effort: failures resolve to a failed Result and
// never end a session.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Instruction is the fixed system prompt for every enhancement call.
const Instruction = "Improve the following transcribed text for clarity and fix any grammar issues. Keep the meaning intact."

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("enhancement returned no text")

// Enhancer produces an improved version of text.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// Options are the generation parameters for each call.
type Options struct {
	Deployment  string
	Temperature float32
	MaxTokens   int
}

// Client calls an Azure OpenAI chat deployment.
type Client struct {
	api  *openai.Client
	opts Options
}

// NewAzureClient creates a client for the deployment at endpoint.
func NewAzureClient(endpoint, apiKey, apiVersion string, opts Options) *Client {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	if apiVersion != "" {
		cfg.APIVersion = apiVersion
	}
	deployment := opts.Deployment
	cfg.AzureModelMapperFunc = func(string) string { return deployment }
	return &Client{
		api:  openai.NewClientWithConfig(cfg),
		opts: opts,
	}
}

// Enhance implements Enhancer.
func (c *Client) Enhance(ctx context.Context, text string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Deployment,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: Instruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
