package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
	"chorus/internal/infra/tracer"
	"chorus/internal/usecase/multiagent"
)

const (
	msgPaused        = "Conversation paused, waiting for input."
	msgPausedDone    = "Conversation paused."
	msgCompleted     = "Conversation complete."
	eventsBufferSize = 16
)

// Request starts or continues a conversation.
type Request struct {
	ConversationID string
	UserID         string
	Message        string
	Agents         []domain.AgentPersona
	// History is the stored transcript when continuing a conversation.
	History  []domain.Message
	MaxTurns int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventBus mirrors every event onto bus under the conversation ID.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRegistryOptions applies opts to the per-run agent registry.
func WithRegistryOptions(opts ...multiagent.Option) Option {
	return func(o *Orchestrator) { o.registryOpts = append(o.registryOpts, opts...) }
}

// Orchestrator runs the turn-taking loop: select a speaker, generate its
// reply, check for termination, repeat.
type Orchestrator struct {
	maxTurns     int
	resolver     domain.ModelResolver
	selector     *Selector
	terminator   *Terminator
	responder    *Responder
	bus          domain.EventBus
	registryOpts []multiagent.Option
	logger       *slog.Logger
}

// New creates an Orchestrator. supervisor backs speaker selection,
// summarization, and termination; resolver binds each agent's model.
func New(conv config.ConversationConfig, sup config.SupervisorConfig, resolver domain.ModelResolver, supervisor domain.ModelClient, logger *slog.Logger, opts ...Option) *Orchestrator {
	policy := RetryPolicyFromConfig(conv.Retry)
	window := NewContextWindow(supervisor, conv.ContextThreshold, conv.KeepRecent, conv.SummaryMaxTokens, logger)

	o := &Orchestrator{
		maxTurns:   conv.MaxTurns,
		resolver:   resolver,
		selector:   NewSelector(supervisor, window, policy, sup.Temperature, sup.MaxTokens, logger),
		terminator: NewTerminator(supervisor, policy, conv.TerminationWindow, sup.Temperature, sup.MaxTokens, logger),
		responder:  NewResponder(conv, logger),
		logger:     logger,
	}
	if o.maxTurns <= 0 {
		o.maxTurns = 10
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run registers the roster and starts the loop. Registration failures are
// returned directly; everything after that is reported on the channel,
// which closes once the run ends and its agents are unregistered.
// Canceling ctx stops the run without further events.
func (o *Orchestrator) Run(ctx context.Context, req Request) (<-chan domain.ConversationEvent, error) {
	if len(req.Agents) == 0 {
		return nil, domain.NewDomainError("Orchestrator.Run", domain.ErrNoValidAgents, req.ConversationID)
	}
	if req.ConversationID == "" {
		req.ConversationID = domain.NewID()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.maxTurns
	}

	registry := multiagent.NewRegistry(o.resolver, o.logger, o.registryOpts...)
	for _, p := range req.Agents {
		if err := registry.Register(p); err != nil {
			o.unregisterAll(registry)
			return nil, err
		}
	}

	state := domain.NewConversationState(req.Message, registry.Roster(), maxTurns,
		req.ConversationID, req.UserID, req.History)

	events := make(chan domain.ConversationEvent, eventsBufferSize)
	go o.loop(ctx, registry, state, events)
	return events, nil
}

// emitter delivers events to the run's channel and the optional bus.
type emitter struct {
	ctx    context.Context
	convID string
	out    chan<- domain.ConversationEvent
	bus    domain.EventBus
	// last is the most recent state, reported if the loop panics.
	last domain.ConversationState
}

func (e *emitter) emit(ev domain.ConversationEvent) bool {
	if e.ctx.Err() != nil {
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if e.bus != nil {
		e.bus.Publish(e.ctx, ev.Envelope(e.convID))
	}
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (o *Orchestrator) loop(ctx context.Context, registry *multiagent.Registry, state domain.ConversationState, events chan<- domain.ConversationEvent) {
	defer close(events)
	defer o.unregisterAll(registry)

	ctx, span := tracer.StartSpan(ctx, "conversation.run",
		tracer.ConversationAttrs(state.ConversationID, state.TurnCount),
		trace.WithAttributes(tracer.IntAttr("conversation.max_turns", state.MaxTurns)),
	)
	defer span.End()

	em := &emitter{ctx: ctx, convID: state.ConversationID, out: events, bus: o.bus, last: state}
	log := o.logger.With("conversation_id", state.ConversationID)

	// Runs before span.End, unregisterAll and close(events).
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("conversation loop panicked: %v", r)
			tracer.RecordError(span, err)
			log.Error("conversation panicked", "panic", r, "stack", string(debug.Stack()))
			last := em.last
			em.emit(domain.ConversationEvent{Type: domain.EventError, Message: err.Error(), State: &last})
		}
	}()
	log.Info("conversation started", "agents", len(state.Agents), "max_turns", state.MaxTurns)

	if !em.emit(domain.ConversationEvent{
		Type:    domain.EventStatus,
		Message: fmt.Sprintf("Conversation started with %d agents.", len(state.Agents)),
	}) {
		return
	}

	final, message, err := o.converse(ctx, em, registry, state)
	switch {
	case ctx.Err() != nil:
		log.Info("conversation canceled", "turns", final.TurnCount)
	case err != nil:
		tracer.RecordError(span, err)
		log.Error("conversation failed", "turns", final.TurnCount, "error", err)
		em.emit(domain.ConversationEvent{Type: domain.EventError, Message: err.Error(), State: &final})
	default:
		span.SetAttributes(tracer.IntAttr("conversation.turns", final.TurnCount))
		tracer.SetOK(span)
		log.Info("conversation finished", "turns", final.TurnCount, "reason", message)
		em.emit(domain.ConversationEvent{Type: domain.EventConversationComplete, Message: message, State: &final})
	}
}

// converse drives turns until the conversation completes, pauses, or fails.
// It returns the last state and the completion message.
func (o *Orchestrator) converse(ctx context.Context, em *emitter, registry *multiagent.Registry, state domain.ConversationState) (domain.ConversationState, string, error) {
	for !state.Done() {
		sel := o.selector.Select(ctx, state)
		if err := ctx.Err(); err != nil {
			return state, "", err
		}
		if sel == nil || sel.GrantedTurns() == 0 {
			if !em.emit(domain.ConversationEvent{Type: domain.EventStatus, Message: msgPaused}) {
				return state, "", ctx.Err()
			}
			return state, msgPausedDone, nil
		}

		member, err := registry.Get(sel.AgentID)
		if err != nil {
			return state, "", fmt.Errorf("selected agent is not registered: %w", err)
		}

		for range sel.GrantedTurns() {
			next, reason, done, err := o.turn(ctx, em, member, state)
			state = next
			if err != nil {
				return state, "", err
			}
			if done {
				return state, reason, nil
			}
			if state.Done() {
				break
			}
		}
	}

	if state.TurnCount >= state.MaxTurns {
		return state.Completed(), reasonMaxTurns, nil
	}
	return state, msgCompleted, nil
}

// turn lets member speak once and runs the termination check.
func (o *Orchestrator) turn(ctx context.Context, em *emitter, member *multiagent.Member, state domain.ConversationState) (domain.ConversationState, string, bool, error) {
	p := member.Persona
	if !em.emit(domain.ConversationEvent{
		Type:      domain.EventStatus,
		Message:   p.Name + " is thinking...",
		AgentID:   p.AgentID,
		AgentName: p.Name,
	}) {
		return state, "", false, ctx.Err()
	}

	reply, err := o.responder.Respond(ctx, member, state.Messages)
	if err != nil {
		return state, "", false, fmt.Errorf("agent %s: %w", p.AgentID, err)
	}

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   reply,
		AgentID:   p.AgentID,
		Speaker:   p.Name,
		Timestamp: time.Now().UTC(),
	}
	state = state.AppendMessage(msg)
	em.last = state
	if !em.emit(domain.ConversationEvent{
		Type:      domain.EventAgentResponse,
		Message:   reply,
		AgentID:   p.AgentID,
		AgentName: p.Name,
		Timestamp: msg.Timestamp,
	}) {
		return state, "", false, ctx.Err()
	}

	if len(state.Messages) < minMessagesForCheck {
		return state, "", false, nil
	}
	d := o.terminator.Decide(ctx, state)
	if err := ctx.Err(); err != nil {
		return state, "", false, err
	}
	if d.ShouldTerminate {
		reason := d.Reason
		if reason == "" {
			reason = msgCompleted
		}
		return state.Completed(), reason, true, nil
	}
	return state, "", false, nil
}

func (o *Orchestrator) unregisterAll(registry *multiagent.Registry) {
	for _, a := range registry.Roster() {
		if err := registry.Unregister(a.ID); err != nil {
			o.logger.Warn("unregister agent", "agent_id", a.ID, "error", err)
		}
	}
}
