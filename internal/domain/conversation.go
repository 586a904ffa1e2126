package domain

import "time"

// ConversationState is the value the orchestration loop threads through each
// turn. Every mutator returns a new value and leaves the receiver untouched.
type ConversationState struct {
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id,omitempty"`
	Messages       []Message     `json:"messages"`
	Agents         []RosterEntry `json:"agents"`
	CurrentSpeaker string        `json:"current_speaker,omitempty"`
	TurnCount      int           `json:"turn_count"`
	MaxTurns       int           `json:"max_turns"`
	Complete       bool          `json:"complete"`
}

// NewConversationState seeds a conversation. With no history the state holds
// one user message; otherwise the history is kept and the new message, when
// non-empty, follows it. TurnCount starts at zero either way.
func NewConversationState(initialMessage string, roster []RosterEntry, maxTurns int, conversationID, userID string, existing []Message) ConversationState {
	msgs := make([]Message, 0, len(existing)+1)
	msgs = append(msgs, existing...)
	if len(existing) == 0 || initialMessage != "" {
		msgs = append(msgs, Message{
			Role:      RoleUser,
			Content:   initialMessage,
			Speaker:   "User",
			Timestamp: time.Now().UTC(),
		})
	}

	agents := make([]RosterEntry, len(roster))
	copy(agents, roster)

	return ConversationState{
		ConversationID: conversationID,
		UserID:         userID,
		Messages:       msgs,
		Agents:         agents,
		MaxTurns:       maxTurns,
	}
}

// AppendMessage returns a copy of s with msg appended. Assistant messages
// count as one turn each.
func (s ConversationState) AppendMessage(msg Message) ConversationState {
	msgs := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, msg)

	if msg.Role == RoleAssistant {
		s.TurnCount++
	}
	switch {
	case msg.AgentID != "":
		s.CurrentSpeaker = msg.AgentID
	case msg.Speaker != "":
		s.CurrentSpeaker = msg.Speaker
	}
	return s
}

// Completed returns a copy of s marked complete.
func (s ConversationState) Completed() ConversationState {
	s.Complete = true
	return s
}

// Done reports whether the loop should stop scheduling turns.
func (s ConversationState) Done() bool {
	return s.Complete || s.TurnCount >= s.MaxTurns
}

// Agent returns the roster entry with the given ID.
func (s ConversationState) Agent(id string) (RosterEntry, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return RosterEntry{}, false
}
