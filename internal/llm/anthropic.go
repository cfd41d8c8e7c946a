package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// oauthBetaHeader unlocks bearer-token auth on the messages API.
const oauthBetaHeader = "oauth-2025-04-20"

// AnthropicClient wraps the official SDK for both auth modes.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicAPIClient builds a client from a standard API key.
func NewAnthropicAPIClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(2),
		),
		model: model,
	}
}

// NewAnthropicOAuthClient builds a client from a gateway OAuth token.
func NewAnthropicOAuthClient(token, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAuthToken(token),
			option.WithHeader("anthropic-beta", oauthBetaHeader),
			option.WithMaxRetries(2),
		),
		model: model,
	}
}

// Complete runs one message exchange and concatenates the text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

// Close is a no-op; the SDK client owns no resources.
func (c *AnthropicClient) Close() error { return nil }
