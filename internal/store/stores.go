package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps a persistence-layer failure. Per the error handling
// design, non-critical writes (usage log, access count) are logged and
// swallowed by callers; critical writes are logged and surfaced with this
// type so the caller can decide whether to fail the turn.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Stores is the top-level container for all storage backends.
type Stores struct {
	Conversations ConversationStore
	Memory        MemoryStore
	Knowledge     KnowledgeStore
	Cron          CronStore
	Review        ReviewStore
	Agents        AgentStore
	Routes        RouteStore
	Usage         UsageStore
}

// StoreConfig configures backend construction.
type StoreConfig struct {
	PostgresDSN   string
	SQLitePath    string // standalone fallback when PostgresDSN is empty
	EmbeddingDim  int    // default 768
}

// ConversationStore manages conversations and their messages.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, id *uuid.UUID, agentID string, convType string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	GetBySessionKey(ctx context.Context, key string) (*Conversation, error)
	Update(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, agentID string, limit, offset int) ([]*Conversation, int, error)

	AppendMessage(ctx context.Context, msg *Message) error
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) error
}

// MemorySearchOpts parameterizes MemoryStore.Search.
type MemorySearchOpts struct {
	Query             string
	Areas             []string
	Project           string
	Limit             int
	MinConfidence     float64
	IncludeSuperseded bool
}

// MemorySearchResult pairs a Memory with the score it was ranked by.
type MemorySearchResult struct {
	Memory     *Memory
	Score      float64
	TextOnly   bool // true if embedding failed and the score is ts_rank-only
}

// ConsolidateReport summarizes the effects of one MemoryStore.Consolidate call.
type ConsolidateReport struct {
	Merged   int
	Archived int
	Dropped  int
}

// MemoryStore manages area-scoped long-term memories.
type MemoryStore interface {
	Write(ctx context.Context, m *Memory) (*Memory, error)
	Search(ctx context.Context, opts MemorySearchOpts) ([]MemorySearchResult, error)
	Get(ctx context.Context, id uuid.UUID) (*Memory, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) // best-effort, not transactional with reads
	Consolidate(ctx context.Context) (ConsolidateReport, error)
}

// KnowledgeQueryOpts parameterizes KnowledgeStore.Query.
type KnowledgeQueryOpts struct {
	CollectionID *uuid.UUID
	Status       string
	Tags         []string
	Sort         string // e.g. "-createdAt"
	Limit, Offset int
}

// KnowledgeStore manages schema-flexible objects, relations, and their audit trail.
type KnowledgeStore interface {
	CreateCollection(ctx context.Context, name string, schema, config []byte) (*KnowledgeCollection, error)
	CreateObject(ctx context.Context, collectionID uuid.UUID, title string, data []byte, tags []string, createdBy string) (*KnowledgeObject, error)
	UpdateObject(ctx context.Context, id uuid.UUID, patch []byte, performer string) (*KnowledgeObject, error)
	ArchiveObject(ctx context.Context, id uuid.UUID, performer string) error
	DeleteObject(ctx context.Context, id uuid.UUID, performer string) error
	Relate(ctx context.Context, source, target uuid.UUID, relation string, metadata []byte) (*KnowledgeRelation, error)
	Query(ctx context.Context, opts KnowledgeQueryOpts) ([]*KnowledgeObject, int, error)
	Search(ctx context.Context, query string, collectionID *uuid.UUID, limit int) ([]MemorySearchResult, error)
	Audit(ctx context.Context, objectID uuid.UUID, limit int) ([]*KnowledgeAudit, error)
}

// CronStore manages scheduled jobs and their run history.
type CronStore interface {
	Create(ctx context.Context, job *CronJob) (*CronJob, error)
	Update(ctx context.Context, job *CronJob) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*CronJob, error)
	List(ctx context.Context, agentID string) ([]*CronJob, error)
	DueBefore(ctx context.Context, at time.Time, limit int) ([]*CronJob, error)

	// Claim atomically sets running_at = NOW() for a job whose running_at IS
	// NULL. Returns (nil, false, nil) if another runner already holds it.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*CronJob, bool, error)
	// Complete clears running_at and persists last_run status. nextRunAt is
	// the caller-computed next fire time (nil disables the job, used for
	// one-shot "at" jobs and to signal "delete" via deleteAfterRun).
	Complete(ctx context.Context, id uuid.UUID, status, errText string, duration time.Duration, now time.Time, nextRunAt *time.Time) error
	// ReleaseAbandoned clears running_at for jobs whose claim is older than timeout and
	// records them as errored. Used for crash recovery on startup.
	ReleaseAbandoned(ctx context.Context, timeout time.Duration, now time.Time) (int, error)
	RecordRun(ctx context.Context, run *CronJobRun) error
	Runs(ctx context.Context, jobID uuid.UUID, limit int) ([]*CronJobRun, error)
}

// ReviewFilters parameterizes ReviewStore.List.
type ReviewFilters struct {
	Status      string
	AgentID     string
	Type        string
	Tag         string
	MinPriority int
	MaxPriority int
	MaxAgeHours int
	Limit, Offset int
}

// ReviewStore manages the human-in-the-loop queue.
type ReviewStore interface {
	Enqueue(ctx context.Context, item *ReviewItem) (*ReviewItem, error)
	Get(ctx context.Context, id uuid.UUID) (*ReviewItem, error)
	// Resolve transitions a pending item to a terminal status. Returns
	// (item, true, nil) the first time it succeeds; (item, false, nil) if the
	// item was already resolved by a concurrent caller, so side effects fire
	// exactly once.
	Resolve(ctx context.Context, id uuid.UUID, status, resolution, resolvedBy string) (*ReviewItem, bool, error)
	List(ctx context.Context, filters ReviewFilters) ([]*ReviewItem, error)
}

// AgentStore manages agent configuration records.
type AgentStore interface {
	Get(ctx context.Context, id string) (*AgentRecord, error)
	List(ctx context.Context) ([]*AgentRecord, error)
	Upsert(ctx context.Context, rec *AgentRecord) error
	Delete(ctx context.Context, id string) error
}

// RouteStore manages the task->(provider,model) routing table.
type RouteStore interface {
	Get(ctx context.Context, task string) (*ModelRoute, error)
	List(ctx context.Context) ([]*ModelRoute, error)
	Upsert(ctx context.Context, r *ModelRoute) error
	SeedDefaults(ctx context.Context, defaults []*ModelRoute) error
}

// UsageStore records append-only provider usage accounting.
type UsageStore interface {
	Record(ctx context.Context, u *UsageRecord) error
	Summary(ctx context.Context, since time.Time) (map[string]float64, error)
}
