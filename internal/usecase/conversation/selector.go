package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"chorus/internal/domain"
	"chorus/internal/infra/tracer"
)

const defaultSelectionReasoning = "Supervisor selection."

var selectionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agentId": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string"},
    "turns": {"type": "integer", "minimum": 0}
  },
  "required": ["agentId"]
}`)

// Selector asks the supervisor model who speaks next.
type Selector struct {
	supervisor  domain.ModelClient
	window      *ContextWindow
	policy      RetryPolicy
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// NewSelector creates a Selector.
func NewSelector(supervisor domain.ModelClient, window *ContextWindow, policy RetryPolicy, temperature float64, maxTokens int, logger *slog.Logger) *Selector {
	return &Selector{
		supervisor:  supervisor,
		window:      window,
		policy:      policy,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// Select returns the next speaker, or nil when the roster is empty.
// Supervisor failures fall back to roster order and never surface as errors.
func (s *Selector) Select(ctx context.Context, state domain.ConversationState) *domain.AgentSelection {
	if len(state.Agents) == 0 {
		return nil
	}

	ctx, span := tracer.StartSpan(ctx, "conversation.select",
		tracer.ConversationAttrs(state.ConversationID, state.TurnCount),
		trace.WithAttributes(tracer.IntAttr("conversation.agents", len(state.Agents))),
	)
	defer span.End()

	recent := lastSpeakers(state.Messages)
	prompt := s.userPrompt(ctx, state, recent)

	sel, err := retryStructured(ctx, s.policy, s.logger, "select", func(ctx context.Context) (domain.AgentSelection, error) {
		var out domain.AgentSelection
		err := s.supervisor.InvokeStructured(ctx,
			[]domain.Message{{Role: domain.RoleUser, Content: prompt}},
			selectorInstruction, selectionSchema, &out,
			domain.InvokeOptions{Temperature: domain.Temp(s.temperature), MaxTokens: s.maxTokens},
		)
		if err != nil {
			return out, err
		}
		if _, ok := state.Agent(out.AgentID); !ok {
			return out, fmt.Errorf("%w: unknown agentId %q", domain.ErrStructuredOutput, out.AgentID)
		}
		return out, nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		fb := fallbackSelection(state.Agents, recent)
		s.logger.Warn("speaker selection failed, using fallback",
			"conversation_id", state.ConversationID,
			"fallback", fb.AgentID,
			"error", err,
		)
		return fb
	}

	if strings.TrimSpace(sel.Reasoning) == "" {
		sel.Reasoning = defaultSelectionReasoning
	}
	sel = enforceVariety(sel, state.Agents, recent)

	span.SetAttributes(tracer.StringAttr("conversation.speaker", sel.AgentID))
	tracer.SetOK(span)
	s.logger.Debug("speaker selected",
		"conversation_id", state.ConversationID,
		"agent_id", sel.AgentID,
		"turns", sel.GrantedTurns(),
		"reasoning", sel.Reasoning,
	)
	return &sel
}

func (s *Selector) userPrompt(ctx context.Context, state domain.ConversationState, recent []string) string {
	var b strings.Builder
	b.WriteString("Participants:\n")
	for _, a := range state.Agents {
		fmt.Fprintf(&b, "- id: %s, name: %s", a.ID, a.Name)
		if a.Characteristics != "" {
			fmt.Fprintf(&b, ", characteristics: %s", a.Characteristics)
		}
		b.WriteString("\n")
	}
	if len(recent) > 0 {
		fmt.Fprintf(&b, "\nMost recent speakers (latest first): %s\n", strings.Join(recent, ", "))
	}
	b.WriteString("\nConversation:\n")
	b.WriteString(s.window.Render(ctx, state.Messages))
	b.WriteString("\n\nWho should speak next?")
	return b.String()
}

// enforceVariety replaces a recently heard agent with the first roster agent
// that has not spoken recently. When every agent spoke recently the choice
// stands.
func enforceVariety(sel domain.AgentSelection, roster []domain.RosterEntry, recent []string) domain.AgentSelection {
	if !contains(recent, sel.AgentID) {
		return sel
	}
	for _, a := range roster {
		if contains(recent, a.ID) {
			continue
		}
		sel.Reasoning = fmt.Sprintf("Switched to %s for variety; %s (originally selected) spoke recently.", a.ID, sel.AgentID)
		sel.AgentID = a.ID
		return sel
	}
	return sel
}

// fallbackSelection picks the first roster agent that has not spoken
// recently, else the first roster agent.
func fallbackSelection(roster []domain.RosterEntry, recent []string) *domain.AgentSelection {
	pick := roster[0]
	for _, a := range roster {
		if !contains(recent, a.ID) {
			pick = a
			break
		}
	}
	return &domain.AgentSelection{
		AgentID:   pick.ID,
		Reasoning: "Fallback selection after supervisor failure.",
	}
}
