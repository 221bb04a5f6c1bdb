package pg

import (
	"fmt"

	"github.com/itellico/joi-gateway/internal/store"
)

// NewPGStores creates every store backed by one Postgres pool, grounded in
// the teacher's NewPGStores factory shape.
func NewPGStores(cfg store.StoreConfig, embed Embedder) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Conversations: NewPGConversationStore(db),
		Memory:        NewPGMemoryStore(db, embed),
		Knowledge:     NewPGKnowledgeStore(db, embed),
		Cron:          NewPGCronStore(db),
		Review:        NewPGReviewStore(db),
		Agents:        NewPGAgentStore(db),
		Routes:        NewPGRouteStore(db),
		Usage:         NewPGUsageStore(db),
	}, nil
}
