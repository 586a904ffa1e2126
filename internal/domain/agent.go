package domain

import "context"

// Friendliness controls how warm an agent sounds.
type Friendliness string

const (
	FriendlinessWarm     Friendliness = "warm"
	FriendlinessBalanced Friendliness = "balanced"
	FriendlinessReserved Friendliness = "reserved"
)

// ResponseLength controls how much an agent says per turn.
type ResponseLength string

const (
	ResponseLengthConcise  ResponseLength = "concise"
	ResponseLengthBalanced ResponseLength = "balanced"
	ResponseLengthDetailed ResponseLength = "detailed"
)

// Personality is the overall temperament of an agent.
type Personality string

const (
	PersonalityEnergetic  Personality = "energetic"
	PersonalityBalanced   Personality = "balanced"
	PersonalityThoughtful Personality = "thoughtful"
)

// Humor controls how often an agent jokes.
type Humor string

const (
	HumorSerious  Humor = "serious"
	HumorBalanced Humor = "balanced"
	HumorWitty    Humor = "witty"
)

// ExpertiseLevel sets the vocabulary and depth an agent assumes.
type ExpertiseLevel string

const (
	ExpertiseBeginner ExpertiseLevel = "beginner"
	ExpertiseBalanced ExpertiseLevel = "balanced"
	ExpertiseExpert   ExpertiseLevel = "expert"
)

// ChatStyle is the five-axis speaking style of an agent. Empty fields mean
// "balanced".
type ChatStyle struct {
	Friendliness   Friendliness   `json:"friendliness,omitempty"    yaml:"friendliness,omitempty"`
	ResponseLength ResponseLength `json:"response_length,omitempty" yaml:"response_length,omitempty"`
	Personality    Personality    `json:"personality,omitempty"     yaml:"personality,omitempty"`
	Humor          Humor          `json:"humor,omitempty"           yaml:"humor,omitempty"`
	ExpertiseLevel ExpertiseLevel `json:"expertise_level,omitempty" yaml:"expertise_level,omitempty"`
}

// WithDefaults fills empty axes with their balanced value.
func (s ChatStyle) WithDefaults() ChatStyle {
	if s.Friendliness == "" {
		s.Friendliness = FriendlinessBalanced
	}
	if s.ResponseLength == "" {
		s.ResponseLength = ResponseLengthBalanced
	}
	if s.Personality == "" {
		s.Personality = PersonalityBalanced
	}
	if s.Humor == "" {
		s.Humor = HumorBalanced
	}
	if s.ExpertiseLevel == "" {
		s.ExpertiseLevel = ExpertiseBalanced
	}
	return s
}

// ModelConfiguration binds an agent to a provider and model.
type ModelConfiguration struct {
	Provider    ProviderType `json:"provider"              yaml:"provider"`
	ModelName   string       `json:"model_name"            yaml:"model_name"`
	Temperature float64      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"  yaml:"max_tokens,omitempty"`
	APIKey      string       `json:"api_key,omitempty"     yaml:"api_key,omitempty"`
	BaseURL     string       `json:"base_url,omitempty"    yaml:"base_url,omitempty"`
}

// AgentPersona is a named, styled conversational participant. It is
// read-only for the lifetime of a conversation.
type AgentPersona struct {
	AgentID         string             `json:"agent_id"                yaml:"id"`
	Name            string             `json:"name"                    yaml:"name"`
	Prompt          string             `json:"prompt"                  yaml:"prompt"`
	Characteristics string             `json:"characteristics"         yaml:"characteristics"`
	Model           ModelConfiguration `json:"model"                   yaml:"model"`
	Style           ChatStyle          `json:"style"                   yaml:"style"`
	ConnectionID    string             `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
}

// RosterEntry returns the identity triple shown to the supervisor.
func (p AgentPersona) RosterEntry() RosterEntry {
	return RosterEntry{ID: p.AgentID, Name: p.Name, Characteristics: p.Characteristics}
}

// RosterEntry is the snapshot of an agent kept in conversation state.
type RosterEntry struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Characteristics string `json:"characteristics"`
}

// AgentSelection is the supervisor's choice of the next speaker.
type AgentSelection struct {
	AgentID   string `json:"agentId"`
	Reasoning string `json:"reasoning,omitempty"`
	// Turns is the number of consecutive turns granted. Nil means 1 and
	// zero means pause for external input.
	Turns *int `json:"turns,omitempty"`
}

// GrantedTurns resolves Turns to a count.
func (s AgentSelection) GrantedTurns() int {
	if s.Turns == nil {
		return 1
	}
	if *s.Turns < 0 {
		return 0
	}
	return *s.Turns
}

// TerminationDecision is the supervisor's verdict on whether to stop.
type TerminationDecision struct {
	ShouldTerminate bool   `json:"shouldTerminate"`
	Reason          string `json:"reason,omitempty"`
}

// AgentStore looks up personas owned by a user.
type AgentStore interface {
	GetAgent(ctx context.Context, userID, agentID string) (AgentPersona, error)
}

// ConversationStore persists conversation transcripts.
type ConversationStore interface {
	LoadMessages(ctx context.Context, conversationID string) ([]Message, error)
	AppendMessages(ctx context.Context, conversationID, userID string, msgs []Message) error
}
