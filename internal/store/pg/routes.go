package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGRouteStore implements store.RouteStore: the task->(provider,model) table.
type PGRouteStore struct {
	db *sql.DB
}

func NewPGRouteStore(db *sql.DB) *PGRouteStore { return &PGRouteStore{db: db} }

func (s *PGRouteStore) Get(ctx context.Context, task string) (*store.ModelRoute, error) {
	r := &store.ModelRoute{}
	err := s.db.QueryRowContext(ctx, `SELECT task, provider, model, updated_at FROM model_routes WHERE task=$1`, task).
		Scan(&r.Task, &r.Provider, &r.Model, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.StorageError{Op: "routes.get", Err: err}
	}
	return r, nil
}

func (s *PGRouteStore) List(ctx context.Context) ([]*store.ModelRoute, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task, provider, model, updated_at FROM model_routes ORDER BY task`)
	if err != nil {
		return nil, &store.StorageError{Op: "routes.list", Err: err}
	}
	defer rows.Close()
	var result []*store.ModelRoute
	for rows.Next() {
		r := &store.ModelRoute{}
		if rows.Scan(&r.Task, &r.Provider, &r.Model, &r.UpdatedAt) != nil {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *PGRouteStore) Upsert(ctx context.Context, r *store.ModelRoute) error {
	r.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_routes (task, provider, model, updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (task) DO UPDATE SET provider=$2, model=$3, updated_at=$4`,
		r.Task, r.Provider, r.Model, r.UpdatedAt)
	if err != nil {
		return &store.StorageError{Op: "routes.upsert", Err: err}
	}
	return nil
}

func (s *PGRouteStore) SeedDefaults(ctx context.Context, defaults []*store.ModelRoute) error {
	for _, d := range defaults {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO model_routes (task, provider, model, updated_at) VALUES ($1,$2,$3,now())
			 ON CONFLICT (task) DO NOTHING`,
			d.Task, d.Provider, d.Model)
		if err != nil {
			return &store.StorageError{Op: "routes.seed", Err: err}
		}
	}
	return nil
}
