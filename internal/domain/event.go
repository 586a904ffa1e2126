package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

// Conversation lifecycle events. A run ends with conversation_complete or
// error; a pause is a status event followed by conversation_complete.
const (
	EventStatus               EventType = "status"
	EventAgentResponse        EventType = "agent_response"
	EventError                EventType = "error"
	EventConversationComplete EventType = "conversation_complete"
)

// ConversationEvent is one transition reported by the orchestration loop.
type ConversationEvent struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	AgentID   string    `json:"agentId,omitempty"`
	AgentName string    `json:"agentName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// State is the final conversation state, set on terminal events only.
	State *ConversationState `json:"-"`
}

// Terminal reports whether the event ends the stream.
func (e ConversationEvent) Terminal() bool {
	return e.Type == EventConversationComplete || e.Type == EventError
}

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// SubscribeSession registers a handler for events of one session only.
	// Returns an unsubscribe function.
	SubscribeSession(sessionID string, handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}

// Envelope wraps e for the event bus under the given session.
func (e ConversationEvent) Envelope(sessionID string) Event {
	payload, _ := json.Marshal(e)
	return Event{
		Type:      e.Type,
		Timestamp: e.Timestamp,
		SessionID: sessionID,
		Payload:   payload,
	}
}

// ConversationEvent decodes the payload of a conversation lifecycle event.
func (e Event) ConversationEvent() (ConversationEvent, error) {
	var ce ConversationEvent
	if len(e.Payload) == 0 {
		return ce, fmt.Errorf("%w: event %s has no payload", ErrInvalidInput, e.Type)
	}
	if err := json.Unmarshal(e.Payload, &ce); err != nil {
		return ce, fmt.Errorf("%w: decode %s event: %v", ErrInvalidInput, e.Type, err)
	}
	return ce, nil
}
