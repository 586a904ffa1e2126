package multiagent

import (
	"context"
	"log/slog"

	"chorus/internal/domain"
)

// AssembleRoster loads the personas for agentIDs in order. Lookups that fail
// are logged and skipped, and repeated IDs are kept once. When nothing
// remains it returns ErrNoValidAgents.
func AssembleRoster(ctx context.Context, store domain.AgentStore, userID string, agentIDs []string, logger *slog.Logger) ([]domain.AgentPersona, error) {
	seen := make(map[string]bool, len(agentIDs))
	personas := make([]domain.AgentPersona, 0, len(agentIDs))

	for _, id := range agentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		p, err := store.GetAgent(ctx, userID, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("agent unavailable for conversation",
				"agent_id", id,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if p.AgentID == "" {
			p.AgentID = id
		}
		personas = append(personas, p)
	}

	if len(personas) == 0 {
		return nil, domain.NewDomainError("AssembleRoster", domain.ErrNoValidAgents, userID)
	}
	return personas, nil
}
