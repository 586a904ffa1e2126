package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/domain"
)

const rosterYAML = `
agents:
  - id: coach
    name: Coach
    prompt: Motivate the user.
    characteristics: upbeat fitness coach
    model:
      provider: openai
      model_name: gpt-4o-mini
    style:
      friendliness: warm
      response_length: concise
  - id: planner
    prompt: Plan things.
    model:
      provider: anthropic
      model_name: claude-3-5-haiku-latest
      max_tokens: 600
`

func TestLoadFileAgentStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rosterYAML), 0o600))

	s, err := LoadFileAgentStore(path)
	require.NoError(t, err)

	coach, err := s.GetAgent(context.Background(), "anyone", "coach")
	require.NoError(t, err)
	assert.Equal(t, "Coach", coach.Name)
	assert.Equal(t, domain.ProviderOpenAI, coach.Model.Provider)
	assert.Equal(t, domain.FriendlinessWarm, coach.Style.Friendliness)
	assert.Equal(t, domain.ResponseLengthConcise, coach.Style.ResponseLength)

	planner, err := s.GetAgent(context.Background(), "anyone", "planner")
	require.NoError(t, err)
	assert.Equal(t, "planner", planner.Name, "name defaults to id")
	assert.Equal(t, 600, planner.Model.MaxTokens)

	ids := []string{}
	for _, a := range s.Agents() {
		ids = append(ids, a.AgentID)
	}
	assert.Equal(t, []string{"coach", "planner"}, ids)
}

func TestFileAgentStoreMissingAgent(t *testing.T) {
	s, err := ParseAgents([]byte(rosterYAML))
	require.NoError(t, err)

	_, err = s.GetAgent(context.Background(), "u1", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseAgentsRejectsBadRosters(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"missing id", "agents:\n  - name: X\n    model: {provider: openai}\n", domain.ErrInvalidInput},
		{"duplicate", "agents:\n  - id: a\n    model: {provider: openai}\n  - id: a\n    model: {provider: openai}\n", domain.ErrDuplicate},
		{"unknown provider", "agents:\n  - id: a\n    model: {provider: skynet}\n", domain.ErrProviderNotFound},
		{"malformed", "agents: [", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAgents([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadFileAgentStoreMissingFile(t *testing.T) {
	_, err := LoadFileAgentStore(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
