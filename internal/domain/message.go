package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single utterance in a conversation. Messages are
// appended and never edited.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentID   string    `json:"agent_id,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakerLabel returns the display name used when rendering the message into
// a transcript line.
func (m Message) SpeakerLabel() string {
	switch {
	case m.Speaker != "":
		return m.Speaker
	case m.AgentID != "":
		return m.AgentID
	default:
		return m.Role
	}
}

// ResponseFormat asks a provider for a constrained output shape.
type ResponseFormat struct {
	// Type is "json_object" for plain JSON mode.
	Type string `json:"type"`
	// Schema is the JSON Schema the output must satisfy, when known.
	Schema []byte `json:"schema,omitempty"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
