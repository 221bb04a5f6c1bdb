package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Conversation is the identity for a chat thread.
type Conversation struct {
	ID         uuid.UUID       `json:"id"`
	AgentID    string          `json:"agentId"`
	ChannelID  string          `json:"channelId,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"` // unique across channel threads
	Title      string          `json:"title,omitempty"`
	Type       string          `json:"type"` // "direct" | "inbox"
	InboxStatus string         `json:"inboxStatus,omitempty"`
	ContactID  string          `json:"contactId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	// Adaptive throttle bookkeeping, shared by the Agent Runtime and Scheduler.
	ContextWindowCache int `json:"contextWindowCache,omitempty"`
	LastPromptTokens   int `json:"lastPromptTokens,omitempty"`
}

const (
	ConversationTypeDirect = "direct"
	ConversationTypeInbox  = "inbox"
)

// ToolCall is one model-requested tool invocation within an assistant message.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of dispatching one ToolCall.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	Content    string          `json:"content"`
	IsError    bool            `json:"isError,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// TokenUsage is the input/output/cache breakdown for one provider call.
type TokenUsage struct {
	InputTokens      int64 `json:"inputTokens"`
	OutputTokens     int64 `json:"outputTokens"`
	CacheReadTokens  int64 `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int64 `json:"cacheWriteTokens,omitempty"`
}

// Attachment references a piece of media attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Message is one persisted utterance in a Conversation.
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversationId"`
	Role           string          `json:"role"` // user | assistant | system | tool
	Content        string          `json:"content,omitempty"`
	ToolCalls      []ToolCall      `json:"toolCalls,omitempty"`
	ToolResults    []ToolResult    `json:"toolResults,omitempty"`
	Model          string          `json:"model,omitempty"`
	Usage          TokenUsage      `json:"usage,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	Pinned         bool            `json:"pinned,omitempty"`
	Reported       bool            `json:"reported,omitempty"`
	ReplyTo        *uuid.UUID      `json:"replyTo,omitempty"`
	ForwardOf      *uuid.UUID      `json:"forwardOf,omitempty"`
	TraceID        *uuid.UUID      `json:"traceId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Memory is a structured long-term fact, additive and never mutated in place.
type Memory struct {
	ID                uuid.UUID  `json:"id"`
	Area              string     `json:"area"`
	Content           string     `json:"content"`
	Summary           string     `json:"summary,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	Embedding         []float32  `json:"embedding,omitempty"`
	Confidence        float64    `json:"confidence"`
	AccessCount       int        `json:"accessCount"`
	ReinforcementCount int       `json:"reinforcementCount"`
	Source            string     `json:"source"`
	ConversationID    *uuid.UUID `json:"conversationId,omitempty"`
	ChannelID         string     `json:"channelId,omitempty"`
	ProjectID         string     `json:"projectId,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	Visibility        string     `json:"visibility"`
	Pinned            bool       `json:"pinned,omitempty"`
	SupersededBy      *uuid.UUID `json:"supersededBy,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastAccessedAt    *time.Time `json:"lastAccessedAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// Memory areas.
const (
	AreaIdentity    = "identity"
	AreaPreferences = "preferences"
	AreaKnowledge   = "knowledge"
	AreaSolutions   = "solutions"
	AreaEpisodes    = "episodes"
)

// Memory sources.
const (
	SourceUser            = "user"
	SourceInferred         = "inferred"
	SourceSolutionCapture  = "solution_capture"
	SourceEpisode          = "episode"
	SourceFlush            = "flush"
	SourceFeedback         = "feedback"
)

// Memory visibility.
const (
	VisibilityShared     = "shared"
	VisibilityPrivate    = "private"
	VisibilityRestricted = "restricted"
)

// IsActive reports whether m satisfies the "active memory" predicate: not
// superseded, not expired, and above the degenerate-confidence floor.
func (m *Memory) IsActive(now time.Time) bool {
	if m.SupersededBy != nil {
		return false
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return false
	}
	return m.Confidence > 0.05
}

// KnowledgeCollection names a schema-flexible bucket of KnowledgeObjects.
type KnowledgeCollection struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Schema    json.RawMessage `json:"schema,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// KnowledgeObject is a schema-flexible record in a named Collection.
type KnowledgeObject struct {
	ID           uuid.UUID       `json:"id"`
	CollectionID uuid.UUID       `json:"collectionId"`
	Title        string          `json:"title"`
	Data         json.RawMessage `json:"data"`
	Tags         []string        `json:"tags,omitempty"`
	Embedding    []float32       `json:"embedding,omitempty"`
	Status       string          `json:"status"` // active | archived | deleted
	CreatedBy    string          `json:"createdBy"` // "user" | "agent:{id}" | "cron:{name}"
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

const (
	KnowledgeStatusActive   = "active"
	KnowledgeStatusArchived = "archived"
	KnowledgeStatusDeleted  = "deleted"
)

// KnowledgeRelation is a directed, typed edge between two KnowledgeObjects.
type KnowledgeRelation struct {
	ID           uuid.UUID       `json:"id"`
	SourceObject uuid.UUID       `json:"sourceObject"`
	TargetObject uuid.UUID       `json:"targetObject"`
	RelationName string          `json:"relationName"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// KnowledgeAudit records one mutation of a KnowledgeObject.
type KnowledgeAudit struct {
	ID        uuid.UUID       `json:"id"`
	ObjectID  uuid.UUID       `json:"objectId"`
	Action    string          `json:"action"` // create | update | delete | archive
	Performer string          `json:"performer"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Schedule kinds for CronJob.
const (
	ScheduleKindAt    = "at"
	ScheduleKindEvery = "every"
	ScheduleKindCron  = "cron"
)

// Session targets for CronJob.
const (
	SessionTargetMain     = "main"
	SessionTargetIsolated = "isolated"
)

// Payload kinds for CronJob.
const (
	PayloadKindSystemEvent = "system_event"
	PayloadKindAgentTurn   = "agent_turn"
)

// CronJob is a scheduled turn or system event.
type CronJob struct {
	ID              uuid.UUID  `json:"id"`
	AgentID         string     `json:"agentId"`
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	ScheduleKind    string     `json:"scheduleKind"`
	ScheduleAt      *time.Time `json:"scheduleAt,omitempty"`      // ScheduleKindAt
	IntervalMS      int64      `json:"intervalMs,omitempty"`      // ScheduleKindEvery
	CronExpr        string     `json:"cronExpr,omitempty"`        // ScheduleKindCron
	Timezone        string     `json:"timezone,omitempty"`        // ScheduleKindCron
	SessionTarget   string     `json:"sessionTarget"`
	PayloadKind     string     `json:"payloadKind"`
	PayloadText     string     `json:"payloadText"`
	Model           string     `json:"model,omitempty"`
	TimeoutSeconds  int        `json:"timeoutSeconds,omitempty"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	RunningAt       *time.Time `json:"runningAt,omitempty"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	LastStatus      string     `json:"lastStatus,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	LastDurationMS  int64      `json:"lastDurationMs,omitempty"`
	ConsecutiveErrors int      `json:"consecutiveErrors"`
	DeleteAfterRun  bool       `json:"deleteAfterRun,omitempty"`
}

// Run status values recorded to cron_job_runs.
const (
	RunStatusOK      = "ok"
	RunStatusError   = "error"
	RunStatusSkipped = "skipped"
)

// CronJobRun is one audit row of a CronJob execution.
type CronJobRun struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"jobId"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	RanAt      time.Time `json:"ranAt"`
}

// Review item types.
const (
	ReviewTypeApprove    = "approve"
	ReviewTypeClassify   = "classify"
	ReviewTypeMatch      = "match"
	ReviewTypeSelect     = "select"
	ReviewTypeVerify     = "verify"
	ReviewTypeFreeform   = "freeform"
	ReviewTypeTriage     = "triage"
	ReviewTypeVerifyFact = "verify_fact"
)

// Review item statuses.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
	ReviewStatusModified = "modified"
)

// ReviewBlock is one typed content block inside a ReviewItem.
type ReviewBlock struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// ReviewItem is a human-in-the-loop gate.
type ReviewItem struct {
	ID             uuid.UUID       `json:"id"`
	AgentID        string          `json:"agentId"`
	ConversationID *uuid.UUID      `json:"conversationId,omitempty"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Content        []ReviewBlock   `json:"content,omitempty"`
	ProposedAction json.RawMessage `json:"proposedAction,omitempty"`
	Alternatives   json.RawMessage `json:"alternatives,omitempty"`
	Status         string          `json:"status"`
	Resolution     string          `json:"resolution,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
	Priority       int             `json:"priority"`
	Tags           []string        `json:"tags,omitempty"`
	BatchID        string          `json:"batchId,omitempty"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// AgentConfig is the open-ended executor-hint bag on an AgentRecord.
type AgentConfig struct {
	Role          string          `json:"role,omitempty"`
	MaxSpawnDepth int             `json:"maxSpawnDepth,omitempty"`
	Other         json.RawMessage `json:"other,omitempty"`
}

// AgentRecord is the configuration for one agent.
type AgentRecord struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	SystemPrompt  string      `json:"systemPrompt"`
	Model         string      `json:"model"`
	FallbackModel string      `json:"fallbackModel,omitempty"`
	Skills        []string    `json:"skills"` // explicit allow-list; empty means "no tools"
	Enabled       bool        `json:"enabled"`
	Config        AgentConfig `json:"config"`
	AvatarURL     string      `json:"avatarUrl,omitempty"`
}

// Task classes the Model Router resolves.
const (
	TaskChat        = "chat"
	TaskTool        = "tool"
	TaskUtility     = "utility"
	TaskTriage      = "triage"
	TaskClassifier  = "classifier"
	TaskEmbedding   = "embedding"
	TaskVoice       = "voice"
	TaskLightweight = "lightweight"
)

// ModelRoute maps one task class to a concrete (provider, model) pair.
type ModelRoute struct {
	Task      string    `json:"task"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UsageRecord is one append-only provider-call accounting row.
type UsageRecord struct {
	ID             uuid.UUID  `json:"id"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model"`
	Task           string     `json:"task"`
	InputTokens    int64      `json:"inputTokens"`
	OutputTokens   int64      `json:"outputTokens"`
	CostUSD        float64    `json:"costUsd"`
	LatencyMS      int64      `json:"latencyMs"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	AgentID        string     `json:"agentId,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
