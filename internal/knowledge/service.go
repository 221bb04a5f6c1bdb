// Package knowledge is the thin service layer the Agent Runtime and the
// knowledge_query/knowledge_create tools call into.
package knowledge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

var ErrUnavailable = errors.New("knowledge: not available in standalone mode")

type Service struct {
	store store.KnowledgeStore
}

func NewService(s store.KnowledgeStore) *Service { return &Service{store: s} }

func (s *Service) Enabled() bool { return s.store != nil }

func (s *Service) CreateCollection(ctx context.Context, name string, schema, config []byte) (*store.KnowledgeCollection, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.CreateCollection(ctx, name, schema, config)
}

func (s *Service) CreateObject(ctx context.Context, collectionID uuid.UUID, title string, data []byte, tags []string, createdBy string) (*store.KnowledgeObject, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.CreateObject(ctx, collectionID, title, data, tags, createdBy)
}

func (s *Service) UpdateObject(ctx context.Context, id uuid.UUID, patch []byte, performer string) (*store.KnowledgeObject, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.UpdateObject(ctx, id, patch, performer)
}

func (s *Service) ArchiveObject(ctx context.Context, id uuid.UUID, performer string) error {
	if s.store == nil {
		return ErrUnavailable
	}
	return s.store.ArchiveObject(ctx, id, performer)
}

func (s *Service) DeleteObject(ctx context.Context, id uuid.UUID, performer string) error {
	if s.store == nil {
		return ErrUnavailable
	}
	return s.store.DeleteObject(ctx, id, performer)
}

func (s *Service) Relate(ctx context.Context, source, target uuid.UUID, relation string, metadata []byte) (*store.KnowledgeRelation, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.Relate(ctx, source, target, relation, metadata)
}

func (s *Service) Query(ctx context.Context, opts store.KnowledgeQueryOpts) ([]*store.KnowledgeObject, int, error) {
	if s.store == nil {
		return nil, 0, ErrUnavailable
	}
	return s.store.Query(ctx, opts)
}

func (s *Service) Search(ctx context.Context, query string, collectionID *uuid.UUID, limit int) ([]store.MemorySearchResult, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 10
	}
	return s.store.Search(ctx, query, collectionID, limit)
}

func (s *Service) Audit(ctx context.Context, objectID uuid.UUID, limit int) ([]*store.KnowledgeAudit, error) {
	if s.store == nil {
		return nil, ErrUnavailable
	}
	return s.store.Audit(ctx, objectID, limit)
}
