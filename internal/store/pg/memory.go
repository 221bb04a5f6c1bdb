package pg

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// AreaSearchConfig holds the per-area hybrid-search weights from spec.md §4.B.
type AreaSearchConfig struct {
	VectorWeight float64
	TextWeight   float64
	DecayOn      bool
	HalfLifeDays float64
	MinConfidence float64
}

// DefaultAreaConfigs returns the seeded per-area defaults table.
func DefaultAreaConfigs() map[string]AreaSearchConfig {
	return map[string]AreaSearchConfig{
		store.AreaIdentity:    {VectorWeight: 0.3, TextWeight: 0.7, DecayOn: false, MinConfidence: 0.1},
		store.AreaPreferences: {VectorWeight: 0.3, TextWeight: 0.7, DecayOn: true, HalfLifeDays: 180, MinConfidence: 0.2},
		store.AreaKnowledge:   {VectorWeight: 0.6, TextWeight: 0.4, DecayOn: true, HalfLifeDays: 60, MinConfidence: 0.3},
		store.AreaSolutions:   {VectorWeight: 0.8, TextWeight: 0.2, DecayOn: true, HalfLifeDays: 120, MinConfidence: 0.3},
		store.AreaEpisodes:    {VectorWeight: 0.4, TextWeight: 0.3, DecayOn: true, HalfLifeDays: 14, MinConfidence: 0.2},
	}
}

// Embedder computes a dense embedding for a piece of text, used by
// PGMemoryStore.Write to fill the vector column. Implemented by
// internal/router so the store package stays free of provider imports.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PGMemoryStore implements store.MemoryStore against Postgres with pgvector
// + FTS hybrid scoring, grounded in spec.md §4.B's exact algorithm.
type PGMemoryStore struct {
	db      *sql.DB
	areas   map[string]AreaSearchConfig
	embed   Embedder
}

func NewPGMemoryStore(db *sql.DB, embed Embedder) *PGMemoryStore {
	return &PGMemoryStore{db: db, areas: DefaultAreaConfigs(), embed: embed}
}

func normalizeContent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *PGMemoryStore) Write(ctx context.Context, m *store.Memory) (*store.Memory, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.Confidence == 0 {
		m.Confidence = 1.0
	}
	if m.Visibility == "" {
		m.Visibility = store.VisibilityPrivate
	}

	if m.Embedding == nil && s.embed != nil {
		catenated := strings.TrimSpace(m.Summary + " " + m.Content + " " + strings.Join(m.Tags, " "))
		if vec, err := s.embed.Embed(ctx, catenated); err == nil {
			m.Embedding = vec
		}
		// Embedding failures degrade gracefully: the row is written without a
		// vector and later searches fall back to text-only scoring for it.
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &store.StorageError{Op: "memory.write", Err: err}
	}
	defer tx.Rollback()

	if m.Source == store.SourceUser && m.Area == store.AreaIdentity {
		norm := normalizeContent(m.Content)
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM memories WHERE area=$1 AND superseded_by IS NULL AND lower(trim(content))=$2`,
			store.AreaIdentity, norm)
		if err == nil {
			var dupes []uuid.UUID
			for rows.Next() {
				var id uuid.UUID
				if rows.Scan(&id) == nil {
					dupes = append(dupes, id)
				}
			}
			rows.Close()
			for _, id := range dupes {
				if _, err := tx.ExecContext(ctx, `UPDATE memories SET superseded_by=$1 WHERE id=$2`, m.ID, id); err != nil {
					return nil, &store.StorageError{Op: "memory.supersede", Err: err}
				}
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, area, content, summary, tags, embedding, confidence, access_count,
		 reinforcement_count, source, conversation_id, channel_id, project_id, scope, visibility,
		 pinned, superseded_by, created_at, updated_at, last_accessed_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		m.ID, m.Area, m.Content, nilStr(m.Summary), pgTextArray(m.Tags), embeddingParam(m.Embedding),
		m.Confidence, m.AccessCount, m.ReinforcementCount, m.Source, m.ConversationID,
		nilStr(m.ChannelID), nilStr(m.ProjectID), nilStr(m.Scope), m.Visibility, m.Pinned,
		m.SupersededBy, m.CreatedAt, m.UpdatedAt, m.LastAccessedAt, m.ExpiresAt,
	)
	if err != nil {
		return nil, &store.StorageError{Op: "memory.write", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &store.StorageError{Op: "memory.write", Err: err}
	}
	return m, nil
}

func (s *PGMemoryStore) Get(ctx context.Context, id uuid.UUID) (*store.Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, area, content, summary, tags, confidence, access_count,
		reinforcement_count, source, conversation_id, channel_id, project_id, scope, visibility, pinned,
		superseded_by, created_at, updated_at, last_accessed_at, expires_at FROM memories WHERE id=$1`, id)
	return scanMemory(row)
}

func scanMemory(row *sql.Row) (*store.Memory, error) {
	m := &store.Memory{}
	var summary, channelID, projectID, scope *string
	var tags []string
	if err := row.Scan(&m.ID, &m.Area, &m.Content, &summary, &tags, &m.Confidence, &m.AccessCount,
		&m.ReinforcementCount, &m.Source, &m.ConversationID, &channelID, &projectID, &scope,
		&m.Visibility, &m.Pinned, &m.SupersededBy, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt,
		&m.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, &store.StorageError{Op: "memory.get", Err: err}
	}
	m.Summary = derefStr(summary)
	m.ChannelID = derefStr(channelID)
	m.ProjectID = derefStr(projectID)
	m.Scope = derefStr(scope)
	m.Tags = tags
	return m, nil
}

// Search implements spec.md §4.B's exact algorithm: per-area hybrid score,
// optional temporal decay, confidence + active-memory filtering, then a
// stable merge-sort across areas.
func (s *PGMemoryStore) Search(ctx context.Context, opts store.MemorySearchOpts) ([]store.MemorySearchResult, error) {
	areas := opts.Areas
	if len(areas) == 0 {
		for a := range s.areas {
			areas = append(areas, a)
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 8
	}

	var queryVec []float32
	textOnly := false
	if s.embed != nil {
		if v, err := s.embed.Embed(ctx, opts.Query); err == nil {
			queryVec = v
		} else {
			textOnly = true
		}
	} else {
		textOnly = true
	}

	now := time.Now()
	var merged []store.MemorySearchResult

	for _, area := range areas {
		cfg, ok := s.areas[area]
		if !ok {
			continue
		}
		minConf := cfg.MinConfidence
		if opts.MinConfidence > minConf {
			minConf = opts.MinConfidence
		}

		const k = 50 // top-K candidates per area before merge, per spec's "retrieve top-K"
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, area, content, summary, tags, confidence, access_count, reinforcement_count,
			 source, conversation_id, channel_id, project_id, scope, visibility, pinned, superseded_by,
			 created_at, updated_at, last_accessed_at, expires_at,
			 ts_rank(fts, plainto_tsquery('english', $1)) AS text_rank,
			 CASE WHEN embedding IS NULL OR $2::vector IS NULL THEN NULL ELSE 1 - (embedding <=> $2::vector) END AS vec_sim
			 FROM memories WHERE area=$3
			 ORDER BY text_rank DESC LIMIT $4`,
			opts.Query, embeddingParam(queryVec), area, k)
		if err != nil {
			return nil, &store.StorageError{Op: "memory.search", Err: err}
		}

		for rows.Next() {
			m := &store.Memory{}
			var summary, channelID, projectID, scope *string
			var tags []string
			var textRank float64
			var vecSim sql.NullFloat64
			if err := rows.Scan(&m.ID, &m.Area, &m.Content, &summary, &tags, &m.Confidence, &m.AccessCount,
				&m.ReinforcementCount, &m.Source, &m.ConversationID, &channelID, &projectID, &scope,
				&m.Visibility, &m.Pinned, &m.SupersededBy, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt,
				&m.ExpiresAt, &textRank, &vecSim); err != nil {
				continue
			}
			m.Summary = derefStr(summary)
			m.ChannelID = derefStr(channelID)
			m.ProjectID = derefStr(projectID)
			m.Scope = derefStr(scope)
			m.Tags = tags

			if !opts.IncludeSuperseded && !m.IsActive(now) {
				continue
			}
			if m.Confidence < minConf {
				continue
			}

			rowTextOnly := textOnly || !vecSim.Valid
			var score float64
			if rowTextOnly {
				score = textRank
			} else {
				score = cfg.VectorWeight*vecSim.Float64 + cfg.TextWeight*textRank
			}
			if cfg.DecayOn && cfg.HalfLifeDays > 0 {
				ageDays := now.Sub(m.CreatedAt).Hours() / 24
				score *= math.Pow(2, -ageDays/cfg.HalfLifeDays)
			}

			merged = append(merged, store.MemorySearchResult{Memory: m, Score: score, TextOnly: rowTextOnly})
		}
		rows.Close()
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *PGMemoryStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) {
	// Best-effort: not transactional with the read that triggered it, per spec.
	_, _ = s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1 WHERE id=$2`, at, id)
}

// Consolidate merges near-duplicate active memories, archives expired ones,
// and drops degenerate identity memories, per spec.md §4.B.
func (s *PGMemoryStore) Consolidate(ctx context.Context) (store.ConsolidateReport, error) {
	var report store.ConsolidateReport
	now := time.Now()

	// Archive expired: model "archived" by dropping confidence to the floor
	// rather than a separate status column, since memories carry no status
	// field in the data model — supersession + confidence IS the lifecycle.
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET confidence = 0 WHERE expires_at IS NOT NULL AND expires_at <= $1 AND confidence > 0`, now)
	if err != nil {
		return report, &store.StorageError{Op: "memory.consolidate.expire", Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		report.Archived = int(n)
	}

	degeneratePatterns := []string{"user", "assistant", "unknown"}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM memories WHERE area=$1 AND superseded_by IS NULL AND confidence > 0`, store.AreaIdentity)
	if err != nil {
		return report, &store.StorageError{Op: "memory.consolidate.scan", Err: err}
	}
	var drop []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var content string
		if rows.Scan(&id, &content) != nil {
			continue
		}
		norm := normalizeContent(content)
		if strings.HasSuffix(norm, "?") {
			drop = append(drop, id)
			continue
		}
		for _, p := range degeneratePatterns {
			if norm == p {
				drop = append(drop, id)
				break
			}
		}
	}
	rows.Close()
	for _, id := range drop {
		if _, err := s.db.ExecContext(ctx, `UPDATE memories SET confidence = 0 WHERE id=$1`, id); err == nil {
			report.Dropped++
		}
	}

	// Near-duplicate merge within each area: cosine >= 0.92 by pgvector
	// distance, confirmed by Jaccard >= 0.7 over normalized token sets,
	// computed in Go since Postgres has no builtin Jaccard operator.
	for area := range s.areas {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, content, confidence, embedding FROM memories
			 WHERE area=$1 AND superseded_by IS NULL AND confidence > 0.05 ORDER BY created_at`, area)
		if err != nil {
			continue
		}
		type cand struct {
			id    uuid.UUID
			conf  float64
			tok   map[string]bool
		}
		var cands []cand
		for rows.Next() {
			var id uuid.UUID
			var content string
			var conf float64
			var emb sql.NullString
			if rows.Scan(&id, &content, &conf, &emb) != nil {
				continue
			}
			cands = append(cands, cand{id: id, conf: conf, tok: tokenSet(content)})
		}
		rows.Close()

		merged := make(map[int]bool)
		for i := 0; i < len(cands); i++ {
			if merged[i] {
				continue
			}
			for j := i + 1; j < len(cands); j++ {
				if merged[j] {
					continue
				}
				if jaccard(cands[i].tok, cands[j].tok) < 0.7 {
					continue
				}
				var sim sql.NullFloat64
				if err := s.db.QueryRowContext(ctx,
					`SELECT 1 - (a.embedding <=> b.embedding) FROM memories a, memories b WHERE a.id=$1 AND b.id=$2`,
					cands[i].id, cands[j].id).Scan(&sim); err != nil || !sim.Valid || sim.Float64 < 0.92 {
					continue
				}
				keep, drop := i, j
				if cands[j].conf > cands[i].conf {
					keep, drop = j, i
				}
				if _, err := s.db.ExecContext(ctx, `UPDATE memories SET superseded_by=$1 WHERE id=$2`,
					cands[keep].id, cands[drop].id); err == nil {
					merged[drop] = true
					report.Merged++
				}
			}
		}
	}

	return report, nil
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(normalizeContent(s)) {
		out[w] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func pgTextArray(ss []string) any {
	if len(ss) == 0 {
		return []string{}
	}
	return ss
}

// embeddingParam renders a dense vector in pgvector's text input format
// ("[v1,v2,...]"), which Postgres casts implicitly when bound against a
// vector(D) column — avoids pulling in a dedicated pgvector client type.
func embeddingParam(v []float32) any {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
