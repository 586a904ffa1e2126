package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
	"chorus/internal/usecase/multiagent"
)

func newTestResponder() *Responder {
	return NewResponder(config.Defaults().Conversation, newTestLogger())
}

func member(p domain.AgentPersona, client *fakeAgent) *multiagent.Member {
	return &multiagent.Member{Persona: p, Client: client}
}

func TestRespondUsesPersonaPromptAndDefaults(t *testing.T) {
	agent := &fakeAgent{replies: []string{"  Hi, I'm here to help.  "}}
	out, err := newTestResponder().Respond(context.Background(), member(coach, agent), []domain.Message{userMsg("Hello")})

	require.NoError(t, err)
	assert.Equal(t, "Hi, I'm here to help.", out)
	require.Len(t, agent.opts, 1)
	require.NotNil(t, agent.opts[0].Temperature)
	assert.Equal(t, 0.7, *agent.opts[0].Temperature)
	assert.Equal(t, 1000, agent.opts[0].MaxTokens)
	assert.Equal(t, BuildSystemPrompt(coach), agent.systems[0])
}

func TestRespondHonorsPersonaMaxTokens(t *testing.T) {
	p := coach
	p.Model.MaxTokens = 250
	agent := &fakeAgent{replies: []string{"ok"}}

	_, err := newTestResponder().Respond(context.Background(), member(p, agent), []domain.Message{userMsg("Hello")})
	require.NoError(t, err)
	assert.Equal(t, 250, agent.opts[0].MaxTokens)
}

func TestRespondStripsOwnNamePrefix(t *testing.T) {
	agent := &fakeAgent{replies: []string{"Coach: Let's get moving."}}
	out, err := newTestResponder().Respond(context.Background(), member(coach, agent), []domain.Message{userMsg("Hello")})

	require.NoError(t, err)
	assert.Equal(t, "Let's get moving.", out)
}

func TestRespondRecoversFromEmptyReply(t *testing.T) {
	tests := []struct {
		name     string
		provider domain.ProviderType
		wantRole string
	}{
		{"system nudge", domain.ProviderOpenAI, domain.RoleSystem},
		{"user nudge", domain.ProviderGemini, domain.RoleUser},
		{"user nudge ollama", domain.ProviderOllama, domain.RoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := coach
			p.Model.Provider = tt.provider
			agent := &fakeAgent{replies: []string{"   ", "Recovered."}}

			out, err := newTestResponder().Respond(context.Background(), member(p, agent), []domain.Message{userMsg("Hello")})

			require.NoError(t, err)
			assert.Equal(t, "Recovered.", out)
			require.Equal(t, 2, agent.callCount())
			require.NotNil(t, agent.opts[1].Temperature)
			assert.Equal(t, 0.8, *agent.opts[1].Temperature)
			retry := agent.seen[1]
			last := retry[len(retry)-1]
			assert.Equal(t, tt.wantRole, last.Role)
			assert.Equal(t, continuationNudge, last.Content)
			assert.Len(t, agent.seen[0], 1, "first attempt history is not modified")
		})
	}
}

func TestRespondFallsBackToFiller(t *testing.T) {
	t.Run("empty twice", func(t *testing.T) {
		agent := &fakeAgent{replies: []string{""}}
		out, err := newTestResponder().Respond(context.Background(), member(coach, agent), []domain.Message{userMsg("Hello")})
		require.NoError(t, err)
		assert.Equal(t, "Hey there!", out)
		assert.Equal(t, 2, agent.callCount())
	})

	t.Run("recovery error", func(t *testing.T) {
		agent := &fakeAgent{replies: []string{"", "ignored"}, errs: []error{nil, domain.ErrServerError}}
		out, err := newTestResponder().Respond(context.Background(), member(coach, agent), []domain.Message{userMsg("Hello")})
		require.NoError(t, err)
		assert.Equal(t, "Hey there!", out)
	})
}

func TestRespondPropagatesFirstAttemptError(t *testing.T) {
	agent := &fakeAgent{errs: []error{domain.ErrRateLimit}}
	_, err := newTestResponder().Respond(context.Background(), member(coach, agent), []domain.Message{userMsg("Hello")})

	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, 1, agent.callCount())
}

func TestAgentTurns(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleSystem, Content: "ignored"},
		userMsg("Hello"),
		agentMsg("coach", "Coach", "Hi, I'm Coach."),
		agentMsg("planner", "Planner", "Hi, I'm Planner."),
	}

	got := agentTurns("coach", history)

	require.Len(t, got, 3)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "Hello"}, got[0])
	assert.Equal(t, domain.RoleAssistant, got[1].Role)
	assert.Equal(t, "Hi, I'm Coach.", got[1].Content)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "Planner: Hi, I'm Planner."}, got[2])
}

func TestAgentTurnsEndOnUserTurn(t *testing.T) {
	history := []domain.Message{
		userMsg("Hello"),
		agentMsg("coach", "Coach", "Hi, I'm Coach."),
	}

	got := agentTurns("coach", history)

	require.Len(t, got, 3)
	assert.Equal(t, domain.RoleAssistant, got[1].Role)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: nextMessageTurn}, got[2])
	assert.Empty(t, agentTurns("coach", nil))
}

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "hello", cleanReply("  coach: hello ", "Coach"))
	assert.Equal(t, "Coaching is fun", cleanReply("Coaching is fun", "Coach"))
	assert.Empty(t, cleanReply("Coach:", "Coach"))
	assert.Empty(t, cleanReply(" \n ", "Coach"))
}
