package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"chorus/internal/domain"
	"chorus/internal/usecase/conversation"
	"chorus/internal/usecase/multiagent"
)

// Notification names pushed to clients.
const (
	NotifyStatus               = "status"
	NotifyAgentThinking        = "agent_thinking"
	NotifyAgentResponse        = "agent_response"
	NotifyError                = "error"
	NotifyConversationComplete = "conversation_complete"
)

const persistTimeout = 10 * time.Second

// ConversationRunner starts a conversation and streams its events.
type ConversationRunner interface {
	Run(ctx context.Context, req conversation.Request) (<-chan domain.ConversationEvent, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Runner        ConversationRunner
	Agents        domain.AgentStore
	Conversations domain.ConversationStore // can be nil (transcripts not kept)
	Bus           domain.EventBus
	Runs          *RunTracker
	Providers     []domain.ProviderType // configured providers, for status
	Logger        *slog.Logger
}

// RunTracker holds the cancel functions of in-flight conversations.
type RunTracker struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// NewRunTracker creates an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{runs: make(map[string]context.CancelFunc)}
}

func (t *RunTracker) add(id string, cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.runs[id]; busy {
		return false
	}
	t.runs[id] = cancel
	return true
}

func (t *RunTracker) remove(id string) {
	t.mu.Lock()
	delete(t.runs, id)
	t.mu.Unlock()
}

// Cancel stops the run for id and reports whether one was running.
func (t *RunTracker) Cancel(id string) bool {
	t.mu.Lock()
	cancel, ok := t.runs[id]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of in-flight conversations.
func (t *RunTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

// RegisterDefaultHandlers registers the conversation RPC methods.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("conversation.run", conversationRunHandler(deps))
	s.RegisterHandler("conversation.cancel", conversationCancelHandler(deps))
}

// RegisterRESTHandlers registers HTTP status endpoints on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventAgentResponse, func(context.Context, domain.Event) {
			metrics.AgentResponses.Add(1)
		})
		deps.Bus.Subscribe(domain.EventConversationComplete, func(context.Context, domain.Event) {
			metrics.RunsCompleted.Add(1)
		})
		deps.Bus.Subscribe(domain.EventError, func(context.Context, domain.Event) {
			metrics.RunsFailed.Add(1)
		})
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(s, deps, startTime, metrics)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(s, deps, startTime, metrics)))
	return metrics
}

// NotificationName maps a conversation event to the name clients see.
func NotificationName(ev domain.ConversationEvent) string {
	switch ev.Type {
	case domain.EventStatus:
		if strings.Contains(ev.Message, "is thinking") {
			return NotifyAgentThinking
		}
		return NotifyStatus
	case domain.EventAgentResponse:
		return NotifyAgentResponse
	case domain.EventError:
		return NotifyError
	case domain.EventConversationComplete:
		return NotifyConversationComplete
	default:
		return string(ev.Type)
	}
}

// eventPayload is the body of an event frame.
type eventPayload struct {
	ConversationID string `json:"conversationId"`
	domain.ConversationEvent
}

// --- conversation ---

type runRequest struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	AgentIDs       []string `json:"agent_ids"`
	Message        string   `json:"message"`
	MaxTurns       int      `json:"max_turns"`
}

type runResponse struct {
	ConversationID string   `json:"conversation_id"`
	Agents         []string `json:"agents"`
}

func conversationRunHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, peer *Peer, payload json.RawMessage) (json.RawMessage, error) {
		const op = "gateway.conversation.run"

		var req runRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.NewDomainError(op, domain.ErrRPCInvalidPayload, err.Error())
		}
		if len(req.AgentIDs) == 0 {
			return nil, domain.NewDomainError(op, domain.ErrRPCInvalidPayload, "agent_ids is required")
		}
		if req.Message == "" && req.ConversationID == "" {
			return nil, domain.NewDomainError(op, domain.ErrRPCInvalidPayload, "message is required")
		}
		userID := req.UserID
		if userID == "" {
			userID = peer.Info.Name
		}

		personas, err := multiagent.AssembleRoster(ctx, deps.Agents, userID, req.AgentIDs, deps.Logger)
		if err != nil {
			return nil, err
		}

		var history []domain.Message
		if req.ConversationID != "" && deps.Conversations != nil {
			history, err = deps.Conversations.LoadMessages(ctx, req.ConversationID)
			if err != nil {
				return nil, domain.WrapOp(op, err)
			}
		}

		convID := req.ConversationID
		if convID == "" {
			convID = domain.NewID()
		}

		runCtx, cancel := context.WithCancel(ctx)
		if !deps.Runs.add(convID, cancel) {
			cancel()
			return nil, domain.NewSubSystemError("conversation", op, domain.ErrDuplicate, convID+" is already running")
		}

		unsub := deps.Bus.SubscribeSession(convID, forwardTo(peer, convID, deps.Logger))
		events, err := deps.Runner.Run(runCtx, conversation.Request{
			ConversationID: convID,
			UserID:         userID,
			Message:        req.Message,
			Agents:         personas,
			History:        history,
			MaxTurns:       req.MaxTurns,
		})
		if err != nil {
			unsub()
			deps.Runs.remove(convID)
			cancel()
			return nil, err
		}

		go func() {
			defer cancel()
			defer deps.Runs.remove(convID)
			defer unsub()
			drain(runCtx, deps, peer, convID, userID, len(history), events)
		}()

		ids := make([]string, len(personas))
		for i, p := range personas {
			ids[i] = p.AgentID
		}
		return json.Marshal(runResponse{ConversationID: convID, Agents: ids})
	}
}

// drain consumes a run's events and stores the transcript delta once the
// run reaches a terminal event.
func drain(ctx context.Context, deps HandlerDeps, peer *Peer, convID, userID string, historyLen int, events <-chan domain.ConversationEvent) {
	terminal := false
	for ev := range events {
		if !ev.Terminal() {
			continue
		}
		terminal = true
		if ev.State == nil || deps.Conversations == nil || len(ev.State.Messages) <= historyLen {
			continue
		}
		delta := ev.State.Messages[historyLen:]
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := deps.Conversations.AppendMessages(pctx, convID, userID, delta); err != nil {
			deps.Logger.Error("persist conversation failed", "conversation_id", convID, "error", err)
		}
		cancel()
	}

	if !terminal {
		body, _ := json.Marshal(eventPayload{
			ConversationID: convID,
			ConversationEvent: domain.ConversationEvent{
				Type:      domain.EventConversationComplete,
				Message:   "Conversation canceled.",
				Timestamp: time.Now().UTC(),
			},
		})
		peer.Push(NotifyConversationComplete, body)
	}
}

func forwardTo(peer *Peer, convID string, logger *slog.Logger) domain.EventHandler {
	return func(_ context.Context, e domain.Event) {
		ev, err := e.ConversationEvent()
		if err != nil {
			logger.Warn("gateway: undecodable conversation event", "conversation_id", convID, "error", err)
			return
		}
		body, err := json.Marshal(eventPayload{ConversationID: convID, ConversationEvent: ev})
		if err != nil {
			return
		}
		peer.Push(NotificationName(ev), body)
	}
}

type cancelRequest struct {
	ConversationID string `json:"conversation_id"`
}

func conversationCancelHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Peer, payload json.RawMessage) (json.RawMessage, error) {
		var req cancelRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.ConversationID == "" {
			return nil, fmt.Errorf("gateway.conversation.cancel: %w", domain.ErrRPCInvalidPayload)
		}
		return json.Marshal(map[string]bool{"canceled": deps.Runs.Cancel(req.ConversationID)})
	}
}
