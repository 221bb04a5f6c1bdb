package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/knowledge"
	"github.com/itellico/joi-gateway/internal/memory"
	"github.com/itellico/joi-gateway/internal/review"
	"github.com/itellico/joi-gateway/internal/store"
)

// memorySearchTool lets an agent pull its own long-term memories into
// context on demand, independent of whatever the runtime already injected.
type memorySearchTool struct{ svc *memory.Service }

func NewMemorySearchTool(svc *memory.Service) Tool { return &memorySearchTool{svc: svc} }

func (t *memorySearchTool) Name() string        { return "memory_search" }
func (t *memorySearchTool) Description() string { return "Search long-term memory for relevant facts." }
func (t *memorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"area":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"query"},
	}
}

func (t *memorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil || !t.svc.Enabled() {
		return ErrorResult("memory is not enabled")
	}
	query, _ := args["query"].(string)
	opts := store.MemorySearchOpts{Query: query, Limit: 10}
	if area, ok := args["area"].(string); ok && area != "" {
		opts.Areas = []string{area}
	}
	results, err := t.svc.Search(ctx, opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err)).WithError(err)
	}
	b, _ := json.Marshal(results)
	return NewResult(string(b))
}

// memoryStoreTool lets an agent explicitly persist a fact it decides is
// worth remembering across conversations.
type memoryStoreTool struct{ svc *memory.Service }

func NewMemoryStoreTool(svc *memory.Service) Tool { return &memoryStoreTool{svc: svc} }

func (t *memoryStoreTool) Name() string        { return "memory_store" }
func (t *memoryStoreTool) Description() string { return "Persist a fact to long-term memory." }
func (t *memoryStoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{"type": "string"},
			"area":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"content", "area"},
	}
}

func (t *memoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil || !t.svc.Enabled() {
		return ErrorResult("memory is not enabled")
	}
	content, _ := args["content"].(string)
	area, _ := args["area"].(string)
	if content == "" || area == "" {
		return ErrorResult("content and area are required")
	}
	m := &store.Memory{Content: content, Area: area, Source: "agent", Confidence: 0.8, Visibility: "private"}
	written, err := t.svc.Write(ctx, m)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory write failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("stored memory %s", written.ID))
}

// knowledgeQueryTool lets an agent browse the knowledge base's structured
// objects within a collection.
type knowledgeQueryTool struct{ svc *knowledge.Service }

func NewKnowledgeQueryTool(svc *knowledge.Service) Tool { return &knowledgeQueryTool{svc: svc} }

func (t *knowledgeQueryTool) Name() string        { return "knowledge_query" }
func (t *knowledgeQueryTool) Description() string { return "Query the knowledge base for objects." }
func (t *knowledgeQueryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"collection_id": map[string]interface{}{"type": "string"},
			"status":        map[string]interface{}{"type": "string"},
		},
	}
}

func (t *knowledgeQueryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil || !t.svc.Enabled() {
		return ErrorResult("knowledge base is not enabled")
	}
	opts := store.KnowledgeQueryOpts{Limit: 20}
	if status, ok := args["status"].(string); ok {
		opts.Status = status
	}
	if cid, ok := args["collection_id"].(string); ok && cid != "" {
		id, err := uuid.Parse(cid)
		if err != nil {
			return ErrorResult("bad collection_id")
		}
		opts.CollectionID = &id
	}
	objs, total, err := t.svc.Query(ctx, opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("knowledge query failed: %v", err)).WithError(err)
	}
	b, _ := json.Marshal(map[string]interface{}{"objects": objs, "total": total})
	return NewResult(string(b))
}

// knowledgeCreateTool lets an agent record a new structured object.
type knowledgeCreateTool struct{ svc *knowledge.Service }

func NewKnowledgeCreateTool(svc *knowledge.Service) Tool { return &knowledgeCreateTool{svc: svc} }

func (t *knowledgeCreateTool) Name() string        { return "knowledge_create" }
func (t *knowledgeCreateTool) Description() string { return "Create a knowledge base object." }
func (t *knowledgeCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"collection_id": map[string]interface{}{"type": "string"},
			"title":         map[string]interface{}{"type": "string"},
			"data":          map[string]interface{}{"type": "object"},
		},
		"required": []string{"collection_id", "title"},
	}
}

func (t *knowledgeCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil || !t.svc.Enabled() {
		return ErrorResult("knowledge base is not enabled")
	}
	cidStr, _ := args["collection_id"].(string)
	cid, err := uuid.Parse(cidStr)
	if err != nil {
		return ErrorResult("bad collection_id")
	}
	title, _ := args["title"].(string)
	var data []byte
	if raw, ok := args["data"]; ok {
		data, _ = json.Marshal(raw)
	}
	obj, err := t.svc.CreateObject(ctx, cid, title, data, nil, "agent")
	if err != nil {
		return ErrorResult(fmt.Sprintf("knowledge create failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("created knowledge object %s", obj.ID))
}

// reviewEnqueueTool lets an agent defer a risky or ambiguous decision to a
// human reviewer instead of acting unilaterally.
type reviewEnqueueTool struct{ svc *review.Service }

func NewReviewEnqueueTool(svc *review.Service) Tool { return &reviewEnqueueTool{svc: svc} }

func (t *reviewEnqueueTool) Name() string { return "review_enqueue" }
func (t *reviewEnqueueTool) Description() string {
	return "Submit an item to the human review queue instead of acting directly."
}
func (t *reviewEnqueueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":       map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
			"type":        map[string]interface{}{"type": "string"},
			"priority":    map[string]interface{}{"type": "integer"},
		},
		"required": []string{"title", "type"},
	}
}

func (t *reviewEnqueueTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.svc == nil || !t.svc.Enabled() {
		return ErrorResult("review queue is not enabled")
	}
	title, _ := args["title"].(string)
	kind, _ := args["type"].(string)
	desc, _ := args["description"].(string)
	priority := 0
	if p, ok := args["priority"].(float64); ok {
		priority = int(p)
	}
	item := &store.ReviewItem{Title: title, Type: kind, Description: desc, Priority: priority, Status: store.ReviewStatusPending}
	created, err := t.svc.Enqueue(ctx, item)
	if err != nil {
		return ErrorResult(fmt.Sprintf("review enqueue failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("queued review item %s", created.ID))
}

// cronCreateTool lets an agent schedule a follow-up turn for itself.
type cronCreateTool struct{ store store.CronStore }

func NewCronCreateTool(cs store.CronStore) Tool { return &cronCreateTool{store: cs} }

func (t *cronCreateTool) Name() string        { return "cron_create" }
func (t *cronCreateTool) Description() string { return "Schedule a future agent turn." }
func (t *cronCreateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":         map[string]interface{}{"type": "string"},
			"interval_ms":  map[string]interface{}{"type": "integer"},
			"payload_text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"name", "interval_ms", "payload_text"},
	}
}

func (t *cronCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.store == nil {
		return ErrorResult("cron store is not enabled")
	}
	name, _ := args["name"].(string)
	payload, _ := args["payload_text"].(string)
	intervalMS := int64(0)
	if v, ok := args["interval_ms"].(float64); ok {
		intervalMS = int64(v)
	}
	job := &store.CronJob{
		Name:         name,
		Enabled:      true,
		ScheduleKind: store.ScheduleKindEvery,
		IntervalMS:   intervalMS,
		PayloadKind:  store.PayloadKindAgentTurn,
		PayloadText:  payload,
	}
	created, err := t.store.Create(ctx, job)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cron create failed: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("scheduled cron job %s", created.ID))
}
