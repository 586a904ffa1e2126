package conversation

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"chorus/internal/domain"
	"chorus/internal/infra/config"
	"chorus/internal/infra/tracer"
	"chorus/internal/usecase/multiagent"
)

const (
	continuationNudge = "Please continue the conversation with your response."
	nextMessageTurn   = "Continue with your next message."
)

// Responder produces one agent's reply.
type Responder struct {
	temperature         float64
	recoveryTemperature float64
	defaultMaxTokens    int
	filler              string
	userRoleNudge       map[domain.ProviderType]bool
	logger              *slog.Logger
}

// NewResponder creates a Responder from the conversation settings.
func NewResponder(cfg config.ConversationConfig, logger *slog.Logger) *Responder {
	r := &Responder{
		temperature:         cfg.Temperature,
		recoveryTemperature: cfg.RecoveryTemperature,
		defaultMaxTokens:    cfg.DefaultMaxTokens,
		filler:              cfg.Filler,
		userRoleNudge:       make(map[domain.ProviderType]bool, len(cfg.UserRoleNudgeProviders)),
		logger:              logger,
	}
	if r.defaultMaxTokens <= 0 {
		r.defaultMaxTokens = 1000
	}
	if r.filler == "" {
		r.filler = "Hey there!"
	}
	for _, p := range cfg.UserRoleNudgeProviders {
		r.userRoleNudge[domain.ProviderType(p)] = true
	}
	return r
}

// Respond generates member's next message given the conversation history.
// An empty reply gets one recovery attempt and then the filler text. Only
// an error from the first attempt is returned.
func (r *Responder) Respond(ctx context.Context, member *multiagent.Member, history []domain.Message) (string, error) {
	p := member.Persona

	ctx, span := tracer.StartSpan(ctx, "conversation.generate",
		trace.WithAttributes(
			tracer.StringAttr("agent.id", p.AgentID),
			tracer.StringAttr("llm.provider", string(p.Model.Provider)),
			tracer.StringAttr("llm.model", p.Model.ModelName),
		),
	)
	defer span.End()

	system := BuildSystemPrompt(p)
	turns := agentTurns(p.AgentID, history)
	maxTokens := p.Model.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.defaultMaxTokens
	}

	out, err := member.Client.Invoke(ctx, turns, system,
		domain.InvokeOptions{Temperature: domain.Temp(r.temperature), MaxTokens: maxTokens})
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	if reply := cleanReply(out, p.Name); reply != "" {
		tracer.SetOK(span)
		return reply, nil
	}

	r.logger.Warn("agent returned empty reply, retrying with nudge", "agent_id", p.AgentID)
	role := domain.RoleSystem
	if r.userRoleNudge[p.Model.Provider] {
		role = domain.RoleUser
	}
	nudged := append(turns[:len(turns):len(turns)], domain.Message{Role: role, Content: continuationNudge})

	out, err = member.Client.Invoke(ctx, nudged, system,
		domain.InvokeOptions{Temperature: domain.Temp(r.recoveryTemperature), MaxTokens: maxTokens})
	if reply := cleanReply(out, p.Name); err == nil && reply != "" {
		tracer.SetOK(span)
		return reply, nil
	}

	r.logger.Warn("agent recovery failed, using filler", "agent_id", p.AgentID, "error", err)
	tracer.SetOK(span)
	return r.filler, nil
}

// agentTurns maps history onto chat roles from self's point of view: its own
// lines are assistant turns and everyone else's are user turns, with other
// agents' lines prefixed by their name. The result never ends on an
// assistant turn, which providers would treat as a prefill to extend.
func agentTurns(self string, history []domain.Message) []domain.Message {
	turns := make([]domain.Message, 0, len(history))
	for _, m := range history {
		switch {
		case m.Role == domain.RoleSystem:
			continue
		case m.AgentID == self:
			turns = append(turns, domain.Message{Role: domain.RoleAssistant, Content: m.Content, Speaker: m.Speaker})
		case m.AgentID != "" || m.Role == domain.RoleAssistant:
			turns = append(turns, domain.Message{Role: domain.RoleUser, Content: m.SpeakerLabel() + ": " + m.Content})
		default:
			turns = append(turns, domain.Message{Role: domain.RoleUser, Content: m.Content})
		}
	}
	if n := len(turns); n > 0 && turns[n-1].Role == domain.RoleAssistant {
		turns = append(turns, domain.Message{Role: domain.RoleUser, Content: nextMessageTurn})
	}
	return turns
}

// cleanReply trims out and drops a leading "Name:" the model may have
// echoed from the transcript format.
func cleanReply(out, name string) string {
	out = strings.TrimSpace(out)
	if name != "" && len(out) > len(name) && strings.EqualFold(out[:len(name)+1], name+":") {
		out = strings.TrimSpace(out[len(name)+1:])
	}
	return out
}
