package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGReviewStore implements store.ReviewStore. Resolve uses a single
// conditional UPDATE (status='pending' -> terminal) so concurrent resolvers
// racing the same item succeed exactly once, matching scenario 6 in spec.md §8.
type PGReviewStore struct {
	db *sql.DB
}

func NewPGReviewStore(db *sql.DB) *PGReviewStore { return &PGReviewStore{db: db} }

func (s *PGReviewStore) Enqueue(ctx context.Context, item *store.ReviewItem) (*store.ReviewItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.Must(uuid.NewV7())
	}
	item.Status = store.ReviewStatusPending
	item.CreatedAt = time.Now()
	content, _ := json.Marshal(item.Content)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_items (id, agent_id, conversation_id, type, title, description, content,
		 proposed_action, alternatives, status, priority, tags, batch_id, expires_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		item.ID, item.AgentID, item.ConversationID, item.Type, item.Title, nilStr(item.Description),
		content, nilBytes(item.ProposedAction), nilBytes(item.Alternatives), item.Status, item.Priority,
		pgTextArray(item.Tags), nilStr(item.BatchID), item.ExpiresAt, item.CreatedAt)
	if err != nil {
		return nil, &store.StorageError{Op: "review.enqueue", Err: err}
	}
	return item, nil
}

func (s *PGReviewStore) Get(ctx context.Context, id uuid.UUID) (*store.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, reviewSelectCols+` FROM review_items WHERE id=$1`, id)
	item, err := scanReviewItem(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return item, err
}

const reviewSelectCols = `SELECT id, agent_id, conversation_id, type, title, description, content,
	proposed_action, alternatives, status, resolution, resolved_by, resolved_at, priority, tags,
	batch_id, expires_at, created_at`

func scanReviewItem(row *sql.Row) (*store.ReviewItem, error) {
	item := &store.ReviewItem{}
	var description, resolution, resolvedBy, batchID *string
	var content, proposedAction, alternatives []byte
	var tags []string
	if err := row.Scan(&item.ID, &item.AgentID, &item.ConversationID, &item.Type, &item.Title, &description,
		&content, &proposedAction, &alternatives, &item.Status, &resolution, &resolvedBy, &item.ResolvedAt,
		&item.Priority, &tags, &batchID, &item.ExpiresAt, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.Description, item.Resolution, item.ResolvedBy, item.BatchID = derefStr(description), derefStr(resolution), derefStr(resolvedBy), derefStr(batchID)
	item.ProposedAction, item.Alternatives, item.Tags = proposedAction, alternatives, tags
	_ = json.Unmarshal(content, &item.Content)
	return item, nil
}

func (s *PGReviewStore) Resolve(ctx context.Context, id uuid.UUID, status, resolution, resolvedBy string) (*store.ReviewItem, bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_items SET status=$1, resolution=$2, resolved_by=$3, resolved_at=$4
		 WHERE id=$5 AND status=$6`,
		status, nilStr(resolution), nilStr(resolvedBy), now, id, store.ReviewStatusPending)
	if err != nil {
		return nil, false, &store.StorageError{Op: "review.resolve", Err: err}
	}
	n, _ := res.RowsAffected()
	item, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return item, n > 0, nil
}

func (s *PGReviewStore) List(ctx context.Context, filters store.ReviewFilters) ([]*store.ReviewItem, error) {
	var where []string
	var args []any
	n := 1
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, filters.Status)
		n++
	}
	if filters.AgentID != "" {
		where = append(where, fmt.Sprintf("agent_id = $%d", n))
		args = append(args, filters.AgentID)
		n++
	}
	if filters.Type != "" {
		where = append(where, fmt.Sprintf("type = $%d", n))
		args = append(args, filters.Type)
		n++
	}
	if filters.Tag != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(tags)", n))
		args = append(args, filters.Tag)
		n++
	}
	if filters.MaxPriority > 0 || filters.MinPriority > 0 {
		where = append(where, fmt.Sprintf("priority BETWEEN $%d AND $%d", n, n+1))
		args = append(args, filters.MinPriority, filters.MaxPriority)
		n += 2
	}
	if filters.MaxAgeHours > 0 {
		where = append(where, fmt.Sprintf("created_at >= now() - interval '%d hours'", filters.MaxAgeHours))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filters.Offset)

	// Order by: pending first, then priority desc, then newest first — per spec.md §4.E.
	q := fmt.Sprintf(`%s FROM review_items %s
		ORDER BY (status = '%s') DESC, priority DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		reviewSelectCols, whereClause, store.ReviewStatusPending, n, n+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "review.list", Err: err}
	}
	defer rows.Close()

	var result []*store.ReviewItem
	for rows.Next() {
		item := &store.ReviewItem{}
		var description, resolution, resolvedBy, batchID *string
		var content, proposedAction, alternatives []byte
		var tags []string
		if err := rows.Scan(&item.ID, &item.AgentID, &item.ConversationID, &item.Type, &item.Title, &description,
			&content, &proposedAction, &alternatives, &item.Status, &resolution, &resolvedBy, &item.ResolvedAt,
			&item.Priority, &tags, &batchID, &item.ExpiresAt, &item.CreatedAt); err != nil {
			continue
		}
		item.Description, item.Resolution, item.ResolvedBy, item.BatchID = derefStr(description), derefStr(resolution), derefStr(resolvedBy), derefStr(batchID)
		item.ProposedAction, item.Alternatives, item.Tags = proposedAction, alternatives, tags
		_ = json.Unmarshal(content, &item.Content)
		result = append(result, item)
	}
	return result, nil
}
