package conversation

import (
	"context"
	"encoding/json"
	"log/slog"

	"chorus/internal/domain"
	"chorus/internal/infra/tracer"
)

const (
	reasonMaxTurns     = "Maximum number of turns reached."
	reasonParseFailure = "Continuing due to parsing error"

	// minMessagesForCheck is the history length below which the supervisor
	// is not consulted.
	minMessagesForCheck = 3
)

var terminationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "shouldTerminate": {"type": "boolean"},
    "reason": {"type": "string"}
  },
  "required": ["shouldTerminate"]
}`)

// Terminator decides whether a conversation should stop.
type Terminator struct {
	supervisor  domain.ModelClient
	policy      RetryPolicy
	window      int
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// NewTerminator creates a Terminator that shows the supervisor the last
// window messages.
func NewTerminator(supervisor domain.ModelClient, policy RetryPolicy, window int, temperature float64, maxTokens int, logger *slog.Logger) *Terminator {
	if window <= 0 {
		window = 10
	}
	return &Terminator{
		supervisor:  supervisor,
		policy:      policy,
		window:      window,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Decide returns the termination verdict for state. It never fails: the
// turn limit is enforced without a model call and supervisor failures keep
// the conversation going.
func (t *Terminator) Decide(ctx context.Context, state domain.ConversationState) domain.TerminationDecision {
	if state.TurnCount >= state.MaxTurns {
		return domain.TerminationDecision{ShouldTerminate: true, Reason: reasonMaxTurns}
	}
	if len(state.Messages) < minMessagesForCheck {
		return domain.TerminationDecision{}
	}

	ctx, span := tracer.StartSpan(ctx, "conversation.terminate",
		tracer.ConversationAttrs(state.ConversationID, state.TurnCount))
	defer span.End()

	tail := state.Messages
	if len(tail) > t.window {
		tail = tail[len(tail)-t.window:]
	}
	prompt := "Conversation so far:\n" + transcript(tail) + "\n\nShould the conversation end now?"

	decision, err := retryStructured(ctx, t.policy, t.logger, "terminate", func(ctx context.Context) (domain.TerminationDecision, error) {
		var out domain.TerminationDecision
		err := t.supervisor.InvokeStructured(ctx,
			[]domain.Message{{Role: domain.RoleUser, Content: prompt}},
			terminationInstruction, terminationSchema, &out,
			domain.InvokeOptions{Temperature: domain.Temp(t.temperature), MaxTokens: t.maxTokens},
		)
		return out, err
	})
	if err != nil {
		tracer.RecordError(span, err)
		t.logger.Warn("termination check failed, continuing",
			"conversation_id", state.ConversationID, "error", err)
		return domain.TerminationDecision{ShouldTerminate: false, Reason: reasonParseFailure}
	}

	span.SetAttributes(tracer.BoolAttr("conversation.terminate", decision.ShouldTerminate))
	tracer.SetOK(span)
	return decision
}
