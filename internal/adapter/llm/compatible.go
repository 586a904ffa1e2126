package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chorus/internal/infra/config"
)

const (
	ollamaURL     = "http://localhost:11434"
	openRouterURL = "https://openrouter.ai/api/v1"
)

// openRouterHeaders attribute traffic to chorus on OpenRouter's dashboard.
var openRouterHeaders = map[string]string{
	"HTTP-Referer": "https://github.com/chorus-run/chorus",
	"X-Title":      "chorus",
}

// NewOllamaProvider speaks the chat dialect of a local Ollama server. Ollama
// takes no key and can spend minutes loading a model before it answers, so
// the response timeout defaults high.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	cfg.APIKey = ""
	cfg.ConnTimeout = positiveOr(cfg.ConnTimeout, 5*time.Second)
	cfg.RespTimeout = positiveOr(cfg.RespTimeout, 5*time.Minute)

	p := NewOpenAIProvider(cfg, logger)
	p.baseURL = ollamaRoot(cfg.BaseURL) + "/v1"
	return p
}

// NewOpenRouterProvider routes chat through OpenRouter.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterURL
	}
	p := NewOpenAIProvider(cfg, logger)
	p.headers = openRouterHeaders
	return p
}

// ollamaRoot accepts base URLs with or without the /v1 suffix.
func ollamaRoot(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), "/v1")
	if base == "" {
		return ollamaURL
	}
	return base
}

// LocalModel is a model pulled into an Ollama server.
type LocalModel struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// OllamaCatalog reads an Ollama server's native API.
type OllamaCatalog struct {
	root   string
	client *http.Client
}

// NewOllamaCatalog returns a catalog for the server cfg points at.
func NewOllamaCatalog(cfg config.ProviderConfig) *OllamaCatalog {
	return &OllamaCatalog{root: ollamaRoot(cfg.BaseURL), client: NewHTTPClient(cfg)}
}

// Ping returns nil when the server answers.
func (c *OllamaCatalog) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/")
	return err
}

// Models lists the models available locally.
func (c *OllamaCatalog) Models(ctx context.Context) ([]LocalModel, error) {
	body, err := c.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	var tags struct {
		Models []LocalModel `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	return tags.Models, nil
}

func (c *OllamaCatalog) get(ctx context.Context, path string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return send(c.client, httpReq)
}
