package multiagent

import (
	"fmt"
	"log/slog"
	"sync"

	"chorus/internal/domain"
)

// Member bundles a persona with the model handle bound to it.
type Member struct {
	Persona domain.AgentPersona
	Client  domain.ModelClient
}

// Option configures a Registry.
type Option func(*Registry)

// WithToolCalling restricts registration to providers that can back a
// tool-enabled execution handle.
func WithToolCalling() Option {
	return func(r *Registry) { r.toolCalling = true }
}

// Registry maps agent IDs to their persona and model handle for the
// lifetime of one conversation.
type Registry struct {
	mu          sync.RWMutex
	members     map[string]*Member
	order       []string
	resolver    domain.ModelResolver
	toolCalling bool
	logger      *slog.Logger
}

// NewRegistry creates a Registry that binds personas through resolver.
func NewRegistry(resolver domain.ModelResolver, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		members:  make(map[string]*Member),
		resolver: resolver,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register resolves a model handle for persona and adds it. Configuration
// problems are returned as errors matching domain.ErrConfiguration.
func (r *Registry) Register(persona domain.AgentPersona) error {
	const op = "Registry.Register"

	if r.toolCalling && !persona.Model.Provider.SupportsToolCalling() {
		return domain.NewDomainError(op, domain.ErrProviderUnsupported,
			fmt.Sprintf("agent %q uses %s", persona.AgentID, persona.Model.Provider))
	}

	client, err := r.resolver.Resolve(persona.Model)
	if err != nil {
		return domain.NewDomainError(op, err, fmt.Sprintf("agent %q", persona.AgentID))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[persona.AgentID]; exists {
		return domain.NewSubSystemError("agent", op, domain.ErrDuplicate, persona.AgentID)
	}
	r.members[persona.AgentID] = &Member{Persona: persona, Client: client}
	r.order = append(r.order, persona.AgentID)
	r.logger.Debug("agent registered",
		"agent_id", persona.AgentID,
		"name", persona.Name,
		"provider", string(persona.Model.Provider),
		"model", persona.Model.ModelName,
	)
	return nil
}

// Unregister removes the persona and its handle together. Returns
// ErrAgentNotFound if the agent is not present.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[agentID]; !ok {
		return domain.NewDomainError("Registry.Unregister", domain.ErrAgentNotFound, agentID)
	}
	delete(r.members, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("agent unregistered", "agent_id", agentID)
	return nil
}

// Get returns the member for agentID, or ErrAgentNotFound.
func (r *Registry) Get(agentID string) (*Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[agentID]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrAgentNotFound, agentID)
	}
	return m, nil
}

// Roster returns the registered agents in registration order.
func (r *Registry) Roster() []domain.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := make([]domain.RosterEntry, 0, len(r.order))
	for _, id := range r.order {
		roster = append(roster, r.members[id].Persona.RosterEntry())
	}
	return roster
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
