package llm

import (
	"context"
	"log/slog"

	"chorus/internal/domain"
)

var _ domain.ModelClient = (*Client)(nil)

// Client binds a provider to one model and its default sampling settings.
type Client struct {
	provider     domain.LLMProvider
	providerType domain.ProviderType
	model        string
	temperature  float64
	maxTokens    int
	schemas      *schemaCache
	logger       *slog.Logger
}

// NewClient creates a model client. Temperature and maxTokens are used when a
// call leaves the corresponding InvokeOptions field unset; a zero default
// temperature leaves the provider's own default in place.
func NewClient(provider domain.LLMProvider, providerType domain.ProviderType, model string, temperature float64, maxTokens int, logger *slog.Logger) *Client {
	return &Client{
		provider:     provider,
		providerType: providerType,
		model:        model,
		temperature:  temperature,
		maxTokens:    maxTokens,
		schemas:      newSchemaCache(),
		logger:       logger,
	}
}

// Provider returns the backend type this client talks to.
func (c *Client) Provider() domain.ProviderType { return c.providerType }

// Model returns the bound model name.
func (c *Client) Model() string { return c.model }

// Invoke implements domain.ModelClient. The returned text may be empty;
// callers decide how to recover.
func (c *Client) Invoke(ctx context.Context, messages []domain.Message, systemPrompt string, opts domain.InvokeOptions) (string, error) {
	resp, err := c.provider.Chat(ctx, c.request(messages, systemPrompt, opts, nil))
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

func (c *Client) request(messages []domain.Message, systemPrompt string, opts domain.InvokeOptions, format *domain.ResponseFormat) domain.ChatRequest {
	msgs := make([]domain.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	req := domain.ChatRequest{
		Model:          c.model,
		Messages:       msgs,
		Temperature:    opts.Temperature,
		MaxTokens:      opts.MaxTokens,
		ResponseFormat: format,
	}
	if req.Temperature == nil && c.temperature > 0 {
		req.Temperature = domain.Temp(c.temperature)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	return req
}
