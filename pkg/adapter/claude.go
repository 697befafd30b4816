package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-5"
	defaultClaudeMaxTokens = 2048
)

// Claude is a Completer backed by the Anthropic Messages API. It has no embedding model,
// so it is paired with another Embedder through Compose.
type Claude struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

type ClaudeOption func(*Claude)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *Claude) {
		c.model = model
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *Claude) {
		c.maxTokens = n
	}
}

// NewClaude creates a new Claude API client. SDK-level retries are disabled; retry policy
// belongs to the agent runtime.
func NewClaude(apiKey string, opts ...ClaudeOption) *Claude {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)

	c := &Claude{
		client:    &client,
		model:     defaultClaudeModel,
		maxTokens: defaultClaudeMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Claude) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", goerr.Wrap(providerError(err), "failed to create claude message", goerr.V("model", c.model))
	}

	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	if len(texts) == 0 {
		return "", goerr.New("empty response from claude", goerr.V("model", c.model))
	}

	return strings.Join(texts, ""), nil
}
