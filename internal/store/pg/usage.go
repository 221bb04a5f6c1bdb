package pg

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGUsageStore implements store.UsageStore. Record never propagates an
// error to the caller — per spec.md §4.A, record_usage must not fail
// run_turn — it logs and returns nil instead.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore { return &PGUsageStore{db: db} }

func (s *PGUsageStore) Record(ctx context.Context, u *store.UsageRecord) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, provider, model, task, input_tokens, output_tokens, cost_usd,
		 latency_ms, conversation_id, agent_id, error, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.Provider, u.Model, u.Task, u.InputTokens, u.OutputTokens, u.CostUSD, u.LatencyMS,
		u.ConversationID, nilStr(u.AgentID), nilStr(u.Error), u.CreatedAt)
	if err != nil {
		slog.Warn("usage record failed", "provider", u.Provider, "model", u.Model, "err", err)
		return nil
	}
	return nil
}

func (s *PGUsageStore) Summary(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, SUM(cost_usd) FROM usage_records WHERE created_at >= $1 GROUP BY provider`, since)
	if err != nil {
		return nil, &store.StorageError{Op: "usage.summary", Err: err}
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var provider string
		var cost float64
		if rows.Scan(&provider, &cost) == nil {
			out[provider] = cost
		}
	}
	return out, nil
}
