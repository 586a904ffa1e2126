//go:build bedrock

package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"chorus/internal/domain"
)

type mockBedrockClient struct {
	converseFunc func(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

func (m *mockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseFunc != nil {
		return m.converseFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			},
		},
		Usage: &types.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(5),
		},
	}
}

func TestBedrockChat(t *testing.T) {
	var received *bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
			received = params
			return textOutput("Hello from Bedrock!"), nil
		},
	}

	provider := newBedrockProviderWithClient("bedrock-test", "anthropic.claude-3-5-sonnet", mock, newTestLogger())
	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You are Coach."},
			{Role: domain.RoleUser, Content: "Hi"},
		},
		Temperature: domain.Temp(0.7),
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Hello from Bedrock!" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if aws.ToString(received.ModelId) != "anthropic.claude-3-5-sonnet" {
		t.Errorf("model = %q", aws.ToString(received.ModelId))
	}
	if len(received.System) != 1 {
		t.Fatalf("system blocks = %d, want 1", len(received.System))
	}
	if aws.ToInt32(received.InferenceConfig.MaxTokens) != defaultBedrockMaxTokens {
		t.Errorf("max tokens = %d", aws.ToInt32(received.InferenceConfig.MaxTokens))
	}
}

func TestBedrockRequestAlternatesRoles(t *testing.T) {
	input := toBedrockConverseInput(domain.ChatRequest{
		Model: "m",
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: "first"},
			{Role: domain.RoleUser, Content: "a"},
			{Role: domain.RoleUser, Content: "b"},
		},
	})

	if len(input.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(input.Messages))
	}
	if input.Messages[0].Role != types.ConversationRoleUser {
		t.Errorf("first role = %s, want user", input.Messages[0].Role)
	}
	last := input.Messages[2].Content[0].(*types.ContentBlockMemberText)
	if last.Value != "a\n\nb" {
		t.Errorf("merged content = %q", last.Value)
	}
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"throttling", &mockAPIError{code: "ThrottlingException", message: "rate limited"}, domain.ErrRateLimit},
		{"access denied", &mockAPIError{code: "AccessDeniedException", message: "no access"}, domain.ErrAuthInvalid},
		{"too long", &mockAPIError{code: "ValidationException", message: "input is too long"}, domain.ErrContextOverflow},
		{"internal", &mockAPIError{code: "InternalServerException", message: "boom"}, domain.ErrServerError},
		{"unavailable", &mockAPIError{code: "ServiceUnavailableException", message: "down"}, domain.ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockBedrockClient{
				converseFunc: func(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
					return nil, tt.err
				},
			}
			provider := newBedrockProviderWithClient("test", "model", mock, newTestLogger())
			_, err := provider.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
