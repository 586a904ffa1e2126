package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Register", ErrProviderUnconfigured, "agent 'coach'")
	want := "Registry.Register: agent 'coach': configuration error: provider has no credentials"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Roster.Assemble", ErrNoValidAgents, "")
	want := "Roster.Assemble: no valid agents for conversation"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("LLM.Chat", ErrProviderNotFound, "groq")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.Chat" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.Chat")
	}
}

func TestConfigurationSentinels(t *testing.T) {
	assert.True(t, IsConfigurationError(ErrProviderUnconfigured))
	assert.True(t, IsConfigurationError(ErrProviderUnsupported))
	assert.True(t, IsConfigurationError(NewDomainError("Registry.Register", ErrProviderUnsupported, "gemini")))
	assert.False(t, IsConfigurationError(ErrRateLimit))
	assert.False(t, IsConfigurationError(nil))
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeAgentNotFound, ErrorCodeOf(ErrAgentNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeStructuredOutput, ErrorCodeOf(ErrStructuredOutput))
}

func TestErrorCodeOf_PrefersSpecificSentinel(t *testing.T) {
	wrapped := fmt.Errorf("factory: %w", ErrProviderUnconfigured)
	assert.Equal(t, CodeProviderUnconfigured, ErrorCodeOf(wrapped))
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(fmt.Errorf("ws: %w", ErrGatewayAuthFailed)))
}

func TestErrorCodeOf_UnknownAndNil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	assert.Equal(t, CodeConversationNotFound, ErrorCodeOf(NewSubSystemError("conversation", "Store.Load", ErrNotFound, "c1")))
	assert.Equal(t, CodeAgentDuplicate, ErrorCodeOf(NewSubSystemError("agent", "Registry.Register", ErrDuplicate, "coach")))
	assert.Equal(t, CodeNotFound, ErrorCodeOf(NewSubSystemError("unknown", "Op", ErrNotFound, "")))
}

func TestNewSubSystemError_Format(t *testing.T) {
	err := NewSubSystemError("agent", "Store.Get", ErrNotFound, "coach")
	assert.Equal(t, "Store.Get: coach: not found", err.Error())
	assert.Equal(t, "agent", err.SubSystem)
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	err := WrapOp("Selector.Select", ErrStructuredOutput)
	assert.Equal(t, "Selector.Select: model output did not match requested schema", err.Error())
	assert.True(t, errors.Is(err, ErrStructuredOutput))
	assert.Equal(t, CodeStructuredOutput, ErrorCodeOf(err))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(fmt.Errorf("llm call: %w", ErrServerError)))
	assert.True(t, IsRetryableError(NewDomainError("LLM.Chat", ErrTimeout, "openai")))
	assert.True(t, IsRetryableError(ErrStructuredOutput))

	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(ErrProviderUnconfigured))
	assert.False(t, IsRetryableError(nil))
}
