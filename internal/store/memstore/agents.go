// Package memstore provides a process-memory AgentStore for standalone mode,
// where the embedded SQLite fallback carries only conversation history
// (internal/store/sqlite). Agent records are configuration, not state that
// needs to survive a restart independent of config.json, so an in-memory map
// seeded from config is sufficient.
package memstore

import (
	"context"
	"sync"

	"github.com/itellico/joi-gateway/internal/store"
)

type AgentStore struct {
	mu     sync.RWMutex
	agents map[string]*store.AgentRecord
}

func NewAgentStore(seed ...*store.AgentRecord) *AgentStore {
	s := &AgentStore{agents: make(map[string]*store.AgentRecord)}
	for _, a := range seed {
		s.agents[a.ID] = a
	}
	return s
}

func (s *AgentStore) Get(_ context.Context, id string) (*store.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (s *AgentStore) List(_ context.Context) ([]*store.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.AgentRecord, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

func (s *AgentStore) Upsert(_ context.Context, rec *store.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[rec.ID] = rec
	return nil
}

func (s *AgentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}
