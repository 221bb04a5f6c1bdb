// Package memory is the thin service layer the Agent Runtime and the
// memory_search/memory_store tools call into, so they depend on a stable
// API rather than reaching into internal/store/pg directly.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// ErrUnavailable is returned when the process is running in standalone
// (SQLite) mode, where the Memory Store has no backing implementation.
var ErrUnavailable = errors.New("memory: not available in standalone mode")

type Service struct {
	store store.MemoryStore
}

func NewService(s store.MemoryStore) *Service { return &Service{store: s} }

func (s *Service) Enabled() bool { return s.store != nil }

func (s *Service) Write(ctx context.Context, m *store.Memory) (*store.Memory, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.Write(ctx, m)
}

func (s *Service) Search(ctx context.Context, opts store.MemorySearchOpts) ([]store.MemorySearchResult, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	if opts.Limit <= 0 {
		opts.Limit = 8
	}
	return s.store.Search(ctx, opts)
}

func (s *Service) Touch(ctx context.Context, id uuid.UUID, at time.Time) {
	if s.store == nil {
		return
	}
	s.store.Touch(ctx, id, at)
}

func (s *Service) Consolidate(ctx context.Context) (store.ConsolidateReport, error) {
	if s.store == nil {
		return store.ConsolidateReport{}, ErrUnavailable
	}
	return s.store.Consolidate(ctx)
}
