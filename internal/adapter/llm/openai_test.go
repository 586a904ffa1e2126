package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer serves a canned JSON body and records the decoded request.
func chatServer(t *testing.T, path string, status int, reply any, into any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if into != nil {
			if err := json.NewDecoder(r.Body).Decode(into); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderChat(t *testing.T) {
	var auth string
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(openaiResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []openaiChoice{{
				Message: openaiMessage{Role: "assistant", Content: "Let's plan your week."},
			}},
			Usage: openaiUsage{PromptTokens: 12, CompletionTokens: 6, TotalTokens: 18},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{
		Name: "openai", APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini",
	}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are Planner."},
			{Role: domain.RoleUser, Content: "Help me plan"},
			{Role: domain.RoleAssistant, Content: "Sure", Speaker: "Coach Bot"},
		},
		Temperature: domain.Temp(0.7),
		MaxTokens:   1000,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "Coach_Bot", got.Messages[2].Name)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Nil(t, got.ResponseFormat)

	assert.Equal(t, "Let's plan your week.", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProviderJSONMode(t *testing.T) {
	var got openaiRequest
	srv := chatServer(t, "/chat/completions", http.StatusOK, openaiResponse{
		Choices: []openaiChoice{{Message: openaiMessage{Content: `{"agentId":"a"}`}}},
	}, &got)

	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())
	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Model:          "gpt-4o",
		Messages:       []domain.Message{{Role: domain.RoleUser, Content: "pick"}},
		ResponseFormat: &domain.ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)

	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Nil(t, got.Temperature)
}

func TestOpenAIProviderSendsZeroTemperature(t *testing.T) {
	var got openaiRequest
	srv := chatServer(t, "/chat/completions", http.StatusOK, openaiResponse{
		Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}},
	}, &got)

	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())
	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Model:       "gpt-4o",
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "pick"}},
		Temperature: domain.Temp(0),
	})
	require.NoError(t, err)

	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
}

func TestOpenAIProviderErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusBadGateway, domain.ErrServerError},
		{http.StatusBadRequest, domain.ErrProviderError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := chatServer(t, "", tt.status, map[string]string{"error": "nope"}, nil)
			p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())

			_, err := p.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	srv := chatServer(t, "", http.StatusOK, openaiResponse{ID: "x"}, nil)
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Message.Content)
}

func TestOpenAIProviderMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestOpenAIProviderCanceledContext(t *testing.T) {
	srv := chatServer(t, "", http.StatusOK, openaiResponse{}, nil)
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsRetryableError(err))
}
