package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "gemini").
	Name() string
}

// ProviderType is the closed set of model backends an agent can bind to.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderGemini     ProviderType = "gemini"
	ProviderOllama     ProviderType = "ollama"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderBedrock    ProviderType = "bedrock"
)

// ProviderTypes lists every known provider in a stable order.
var ProviderTypes = []ProviderType{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
	ProviderOllama,
	ProviderOpenRouter,
	ProviderBedrock,
}

// ParseProviderType validates s against the known provider set.
func ParseProviderType(s string) (ProviderType, error) {
	for _, p := range ProviderTypes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrProviderNotFound, s)
}

// SupportsToolCalling reports whether the provider can back a tool-enabled
// execution handle.
func (p ProviderType) SupportsToolCalling() bool {
	return p == ProviderOpenAI || p == ProviderAnthropic
}

// InvokeOptions tunes a single model call. A nil Temperature or zero
// MaxTokens defers to the client's defaults; an explicit zero temperature is
// sent as is.
type InvokeOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Temp returns t as an InvokeOptions temperature.
func Temp(t float64) *float64 { return &t }

// ModelClient is the text-generation handle bound to one (provider, model).
type ModelClient interface {
	// Invoke returns the model's free-form reply to messages.
	Invoke(ctx context.Context, messages []Message, systemPrompt string, opts InvokeOptions) (string, error)
	// InvokeStructured asks for JSON matching schema and decodes it into out.
	// Output that does not parse or validate yields ErrStructuredOutput.
	InvokeStructured(ctx context.Context, messages []Message, systemPrompt string, schema json.RawMessage, out any, opts InvokeOptions) error
}

// ModelResolver binds a model configuration to a client.
type ModelResolver interface {
	Resolve(cfg ModelConfiguration) (ModelClient, error)
}
