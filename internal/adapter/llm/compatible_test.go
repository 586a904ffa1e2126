package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []LocalModel{{Name: "llama3.1:latest", Size: 42 << 20}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("ollama request carried an Authorization header")
		}
		_ = json.NewEncoder(w).Encode(openaiResponse{
			Model:   "llama3.1",
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "local reply"}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProviderChat(t *testing.T) {
	srv := newOllamaServer(t)

	for _, base := range []string{srv.URL, srv.URL + "/", srv.URL + "/v1"} {
		p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: base, Model: "llama3.1", APIKey: "ignored"}, newTestLogger())
		resp, err := p.Chat(context.Background(), domain.ChatRequest{
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err, base)
		assert.Equal(t, "local reply", resp.Message.Content)
		assert.Equal(t, "ollama", p.Name())
	}
}

func TestOllamaRoot(t *testing.T) {
	assert.Equal(t, ollamaURL, ollamaRoot(""))
	assert.Equal(t, "http://gpu:11434", ollamaRoot("http://gpu:11434/v1/"))
}

func TestOllamaCatalog(t *testing.T) {
	srv := newOllamaServer(t)
	c := NewOllamaCatalog(config.ProviderConfig{BaseURL: srv.URL})

	require.NoError(t, c.Ping(context.Background()))
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.1:latest", models[0].Name)
	assert.Equal(t, int64(42<<20), models[0].Size)
}

func TestOllamaCatalogUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOllamaCatalog(config.ProviderConfig{BaseURL: url})
	assert.Error(t, c.Ping(context.Background()))
	_, err := c.Models(context.Background())
	assert.Error(t, err)
}

func TestOpenRouterProviderHeaders(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "routed"}}},
		})
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(config.ProviderConfig{
		Name: "openrouter", APIKey: "or-key", BaseURL: srv.URL, Model: "openai/gpt-4o-mini",
	}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "routed", resp.Message.Content)
	assert.Equal(t, "Bearer or-key", headers.Get("Authorization"))
	assert.Equal(t, "chorus", headers.Get("X-Title"))
	assert.NotEmpty(t, headers.Get("HTTP-Referer"))
	assert.Equal(t, "openrouter", p.Name())
}
