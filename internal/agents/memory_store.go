package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

type pairKey struct {
	hostname string
	address  string
}

// MemoryStore keeps agents in process memory. It backs the "memory" database driver and
// the unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	byPair  map[pairKey]string
	byKeyID map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]*Agent),
		byPair:  make(map[pairKey]string),
		byKeyID: make(map[string]string),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, agent Agent) (Agent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{hostname: agent.Hostname, address: agent.TailscaleIP}
	if id, exists := s.byPair[key]; exists {
		existing := s.agents[id]
		existing.OSType = agent.OSType
		return copyAgent(existing), false, nil
	}

	stored := copyAgent(&agent)
	s.agents[agent.ID] = &stored
	s.byPair[key] = agent.ID
	s.byKeyID[agent.APIKeyID] = agent.ID
	return copyAgent(&stored), true, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.agents[id]
	if !exists {
		return Agent{}, ErrAgentNotFound
	}
	return copyAgent(a), nil
}

func (s *MemoryStore) GetByKeyID(ctx context.Context, keyID string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byKeyID[keyID]
	if !exists {
		return Agent{}, ErrAgentNotFound
	}
	return copyAgent(s.agents[id]), nil
}

func (s *MemoryStore) ListByHostname(ctx context.Context, hostname string) ([]Agent, error) {
	all, _ := s.List(ctx)

	var result []Agent
	for _, a := range all {
		if a.Hostname == hostname {
			result = append(result, a)
		}
	}
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Agent, error) {
	s.mu.RLock()
	result := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		result = append(result, copyAgent(a))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].RegisteredAt.Equal(result[j].RegisteredAt) {
			return result[i].RegisteredAt.Before(result[j].RegisteredAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.agents[id]
	if !exists {
		return ErrAgentNotFound
	}
	if a.LastSeenAt == nil || at.After(*a.LastSeenAt) {
		seen := at
		a.LastSeenAt = &seen
	}
	return nil
}

func copyAgent(a *Agent) Agent {
	c := *a
	if a.LastSeenAt != nil {
		seen := *a.LastSeenAt
		c.LastSeenAt = &seen
	}
	return c
}
