package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGAgentStore implements store.AgentStore. A NULL skills column is never
// produced: Upsert always writes at least '{}', matching spec.md §4.D's
// "a NULL skills column is forbidden (backfilled to {} at load)".
type PGAgentStore struct {
	db *sql.DB
}

func NewPGAgentStore(db *sql.DB) *PGAgentStore { return &PGAgentStore{db: db} }

func (s *PGAgentStore) Get(ctx context.Context, id string) (*store.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, system_prompt, model, fallback_model, skills, enabled, config, avatar_url
		 FROM agents WHERE id=$1`, id)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*store.AgentRecord, error) {
	a := &store.AgentRecord{}
	var description, fallback, avatar *string
	var skills []string
	var config []byte
	if err := row.Scan(&a.ID, &a.Name, &description, &a.SystemPrompt, &a.Model, &fallback, &skills, &a.Enabled, &config, &avatar); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, &store.StorageError{Op: "agents.get", Err: err}
	}
	a.Description, a.FallbackModel, a.AvatarURL = derefStr(description), derefStr(fallback), derefStr(avatar)
	if skills == nil {
		skills = []string{}
	}
	a.Skills = skills
	_ = json.Unmarshal(config, &a.Config)
	return a, nil
}

func (s *PGAgentStore) List(ctx context.Context) ([]*store.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, system_prompt, model, fallback_model, skills, enabled, config, avatar_url
		 FROM agents ORDER BY id`)
	if err != nil {
		return nil, &store.StorageError{Op: "agents.list", Err: err}
	}
	defer rows.Close()

	var result []*store.AgentRecord
	for rows.Next() {
		a := &store.AgentRecord{}
		var description, fallback, avatar *string
		var skills []string
		var config []byte
		if err := rows.Scan(&a.ID, &a.Name, &description, &a.SystemPrompt, &a.Model, &fallback, &skills, &a.Enabled, &config, &avatar); err != nil {
			continue
		}
		a.Description, a.FallbackModel, a.AvatarURL = derefStr(description), derefStr(fallback), derefStr(avatar)
		if skills == nil {
			skills = []string{}
		}
		a.Skills = skills
		_ = json.Unmarshal(config, &a.Config)
		result = append(result, a)
	}
	return result, nil
}

func (s *PGAgentStore) Upsert(ctx context.Context, rec *store.AgentRecord) error {
	skills := rec.Skills
	if skills == nil {
		skills = []string{}
	}
	config, _ := json.Marshal(rec.Config)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, description, system_prompt, model, fallback_model, skills, enabled, config, avatar_url)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET name=$2, description=$3, system_prompt=$4, model=$5,
		 fallback_model=$6, skills=$7, enabled=$8, config=$9, avatar_url=$10`,
		rec.ID, rec.Name, nilStr(rec.Description), rec.SystemPrompt, rec.Model, nilStr(rec.FallbackModel),
		pgTextArray(skills), rec.Enabled, config, nilStr(rec.AvatarURL))
	if err != nil {
		return &store.StorageError{Op: "agents.upsert", Err: err}
	}
	return nil
}

func (s *PGAgentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id=$1`, id)
	if err != nil {
		return &store.StorageError{Op: "agents.delete", Err: err}
	}
	return nil
}
