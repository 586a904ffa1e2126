package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"chorus/internal/domain"
)

var _ domain.AgentStore = (*FileAgentStore)(nil)

// FileAgentStore serves personas from a YAML roster file. The roster is
// shared by every user.
type FileAgentStore struct {
	agents []domain.AgentPersona
	byID   map[string]int
}

type rosterFile struct {
	Agents []domain.AgentPersona `yaml:"agents"`
}

// LoadFileAgentStore reads and validates the roster at path.
func LoadFileAgentStore(path string) (*FileAgentStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return ParseAgents(data)
}

// ParseAgents builds a store from YAML roster bytes.
func ParseAgents(data []byte) (*FileAgentStore, error) {
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: parse agents: %v", domain.ErrInvalidInput, err)
	}

	s := &FileAgentStore{byID: make(map[string]int, len(rf.Agents))}
	for i, p := range rf.Agents {
		if p.AgentID == "" {
			return nil, fmt.Errorf("%w: agents[%d]: id is required", domain.ErrInvalidInput, i)
		}
		if _, dup := s.byID[p.AgentID]; dup {
			return nil, domain.NewSubSystemError("agent", "ParseAgents", domain.ErrDuplicate, p.AgentID)
		}
		if _, err := domain.ParseProviderType(string(p.Model.Provider)); err != nil {
			return nil, fmt.Errorf("agents[%d] (%s): %w", i, p.AgentID, err)
		}
		if p.Name == "" {
			p.Name = p.AgentID
		}
		s.byID[p.AgentID] = len(s.agents)
		s.agents = append(s.agents, p)
	}
	return s, nil
}

// GetAgent implements domain.AgentStore.
func (s *FileAgentStore) GetAgent(_ context.Context, _, agentID string) (domain.AgentPersona, error) {
	i, ok := s.byID[agentID]
	if !ok {
		return domain.AgentPersona{}, domain.NewSubSystemError("agent", "FileAgentStore.GetAgent", domain.ErrNotFound, agentID)
	}
	return s.agents[i], nil
}

// Agents returns the roster in file order.
func (s *FileAgentStore) Agents() []domain.AgentPersona {
	out := make([]domain.AgentPersona, len(s.agents))
	copy(out, s.agents)
	return out
}
