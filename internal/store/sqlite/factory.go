package sqlite

import (
	"fmt"

	"github.com/itellico/joi-gateway/internal/store"
)

// NewStandaloneStores builds a store.Stores backed by the embedded SQLite
// file for the no-Postgres standalone mode named in spec.md §6's DatabaseConfig.
// Only Conversations is live; every other store is nil, and callers (the
// Agent Runtime, scheduler, review queue) must treat a nil store as "feature
// unavailable in standalone mode" rather than panic.
func NewStandaloneStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./joi-gateway.db"
	}
	conv, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &store.Stores{Conversations: conv}, nil
}
