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

// PGKnowledgeStore implements store.KnowledgeStore, grounded in the
// teacher's team/task audit-column pattern (store/pg/teams.go) generalized
// into a standalone knowledge_audit table with explicit before/after diffs.
type PGKnowledgeStore struct {
	db    *sql.DB
	embed Embedder
}

func NewPGKnowledgeStore(db *sql.DB, embed Embedder) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db, embed: embed}
}

func (s *PGKnowledgeStore) CreateCollection(ctx context.Context, name string, schema, config []byte) (*store.KnowledgeCollection, error) {
	c := &store.KnowledgeCollection{ID: uuid.Must(uuid.NewV7()), Name: name, Schema: schema, Config: config, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_collections (id, name, schema, config, created_at) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.Name, nilBytes(schema), nilBytes(config), c.CreatedAt)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.createCollection", Err: err}
	}
	return c, nil
}

func (s *PGKnowledgeStore) CreateObject(ctx context.Context, collectionID uuid.UUID, title string, data []byte, tags []string, createdBy string) (*store.KnowledgeObject, error) {
	o := &store.KnowledgeObject{
		ID: uuid.Must(uuid.NewV7()), CollectionID: collectionID, Title: title,
		Data: data, Tags: tags, Status: store.KnowledgeStatusActive, CreatedBy: createdBy,
	}
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	if s.embed != nil {
		if v, err := s.embed.Embed(ctx, title+" "+flattenJSONStrings(data)); err == nil {
			o.Embedding = v
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_objects (id, collection_id, title, data, tags, embedding, status,
		 created_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.CollectionID, o.Title, []byte(o.Data), pgTextArray(o.Tags), embeddingParam(o.Embedding),
		o.Status, o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.createObject", Err: err}
	}
	_ = s.audit(ctx, o.ID, "create", createdBy, nil, data)
	return o, nil
}

func (s *PGKnowledgeStore) UpdateObject(ctx context.Context, id uuid.UUID, patch []byte, performer string) (*store.KnowledgeObject, error) {
	before, err := s.getObject(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := mergeJSON(before.Data, patch)
	_, err = s.db.ExecContext(ctx, `UPDATE knowledge_objects SET data=$1, updated_at=now() WHERE id=$2`, []byte(merged), id)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.updateObject", Err: err}
	}
	_ = s.audit(ctx, id, "update", performer, before.Data, merged)
	after, err := s.getObject(ctx, id)
	return after, err
}

func (s *PGKnowledgeStore) ArchiveObject(ctx context.Context, id uuid.UUID, performer string) error {
	before, err := s.getObject(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE knowledge_objects SET status=$1, updated_at=now() WHERE id=$2`, store.KnowledgeStatusArchived, id)
	if err != nil {
		return &store.StorageError{Op: "knowledge.archive", Err: err}
	}
	return s.audit(ctx, id, "archive", performer, before.Data, before.Data)
}

func (s *PGKnowledgeStore) DeleteObject(ctx context.Context, id uuid.UUID, performer string) error {
	before, err := s.getObject(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM knowledge_objects WHERE id=$1`, id)
	if err != nil {
		return &store.StorageError{Op: "knowledge.delete", Err: err}
	}
	return s.audit(ctx, id, "delete", performer, before.Data, nil)
}

func (s *PGKnowledgeStore) Relate(ctx context.Context, source, target uuid.UUID, relation string, metadata []byte) (*store.KnowledgeRelation, error) {
	r := &store.KnowledgeRelation{ID: uuid.Must(uuid.NewV7()), SourceObject: source, TargetObject: target, RelationName: relation, Metadata: metadata, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_relations (id, source_object, target_object, relation_name, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (source_object, target_object, relation_name) DO NOTHING`,
		r.ID, r.SourceObject, r.TargetObject, r.RelationName, nilBytes(metadata), r.CreatedAt)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.relate", Err: err}
	}
	return r, nil
}

func (s *PGKnowledgeStore) Query(ctx context.Context, opts store.KnowledgeQueryOpts) ([]*store.KnowledgeObject, int, error) {
	var where []string
	var args []any
	n := 1
	if opts.CollectionID != nil {
		where = append(where, fmt.Sprintf("collection_id = $%d", n))
		args = append(args, *opts.CollectionID)
		n++
	}
	if opts.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, opts.Status)
		n++
	}
	if len(opts.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags && $%d", n))
		args = append(args, pgTextArray(opts.Tags))
		n++
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := "SELECT COUNT(*) FROM knowledge_objects " + whereClause
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, &store.StorageError{Op: "knowledge.query.count", Err: err}
	}

	order := "created_at DESC"
	switch opts.Sort {
	case "createdAt":
		order = "created_at ASC"
	case "-createdAt", "":
		order = "created_at DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)
	q := fmt.Sprintf(`SELECT id, collection_id, title, data, tags, status, created_by, created_at, updated_at
		FROM knowledge_objects %s ORDER BY %s LIMIT $%d OFFSET $%d`, whereClause, order, n, n+1)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, total, &store.StorageError{Op: "knowledge.query", Err: err}
	}
	defer rows.Close()

	var result []*store.KnowledgeObject
	for rows.Next() {
		o := &store.KnowledgeObject{}
		var data []byte
		var tags []string
		if err := rows.Scan(&o.ID, &o.CollectionID, &o.Title, &data, &tags, &o.Status, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			continue
		}
		o.Data = data
		o.Tags = tags
		result = append(result, o)
	}
	return result, total, nil
}

func (s *PGKnowledgeStore) Search(ctx context.Context, query string, collectionID *uuid.UUID, limit int) ([]store.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, title, ts_rank(fts, plainto_tsquery('english', $1)) AS rank
		  FROM knowledge_objects WHERE status='active' AND fts @@ plainto_tsquery('english', $1)`
	args := []any{query}
	if collectionID != nil {
		q += " AND collection_id = $2 ORDER BY rank DESC LIMIT $3"
		args = append(args, *collectionID, limit)
	} else {
		q += " ORDER BY rank DESC LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.search", Err: err}
	}
	defer rows.Close()

	var results []store.MemorySearchResult
	for rows.Next() {
		var id uuid.UUID
		var title string
		var rank float64
		if rows.Scan(&id, &title, &rank) != nil {
			continue
		}
		results = append(results, store.MemorySearchResult{
			Memory: &store.Memory{ID: id, Content: title},
			Score:  rank, TextOnly: true,
		})
	}
	return results, nil
}

func (s *PGKnowledgeStore) Audit(ctx context.Context, objectID uuid.UUID, limit int) ([]*store.KnowledgeAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_id, action, performer, before, after, created_at FROM knowledge_audit
		 WHERE object_id=$1 ORDER BY created_at DESC LIMIT $2`, objectID, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.audit", Err: err}
	}
	defer rows.Close()
	var result []*store.KnowledgeAudit
	for rows.Next() {
		a := &store.KnowledgeAudit{}
		var before, after []byte
		if rows.Scan(&a.ID, &a.ObjectID, &a.Action, &a.Performer, &before, &after, &a.CreatedAt) != nil {
			continue
		}
		a.Before, a.After = before, after
		result = append(result, a)
	}
	return result, nil
}

func (s *PGKnowledgeStore) audit(ctx context.Context, objectID uuid.UUID, action, performer string, before, after []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_audit (id, object_id, action, performer, before, after, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.Must(uuid.NewV7()), objectID, action, performer, nilBytes(before), nilBytes(after), time.Now())
	return err
}

func (s *PGKnowledgeStore) getObject(ctx context.Context, id uuid.UUID) (*store.KnowledgeObject, error) {
	o := &store.KnowledgeObject{}
	var data []byte
	var tags []string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, collection_id, title, data, tags, status, created_by, created_at, updated_at
		 FROM knowledge_objects WHERE id=$1`, id).
		Scan(&o.ID, &o.CollectionID, &o.Title, &data, &tags, &o.Status, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.StorageError{Op: "knowledge.get", Err: err}
	}
	o.Data, o.Tags = data, tags
	return o, nil
}

func nilBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// mergeJSON shallow-merges patch keys over base, matching how JSONB PATCH
// semantics are commonly approximated in application code (full jsonb_set
// tree-merge is deferred to specific call sites that need it).
func mergeJSON(base, patch []byte) []byte {
	var b, p map[string]any
	_ = json.Unmarshal(base, &b)
	_ = json.Unmarshal(patch, &p)
	if b == nil {
		b = map[string]any{}
	}
	for k, v := range p {
		b[k] = v
	}
	out, _ := json.Marshal(b)
	return out
}

func flattenJSONStrings(data []byte) string {
	var m map[string]any
	if json.Unmarshal(data, &m) != nil {
		return ""
	}
	var parts []string
	for _, v := range m {
		if s, ok := v.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
