package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/agent"
	"github.com/itellico/joi-gateway/internal/scheduler"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/tools"
	"github.com/itellico/joi-gateway/pkg/protocol"
)

// HandlerFunc processes one inbound frame for a connected client. Handlers
// are responsible for sending their own reply/push frames via c.sendFrame
// or c.sendPush; a returned error is logged and turned into a system.error
// push carrying the original frame ID.
type HandlerFunc func(ctx context.Context, c *Client, f *protocol.Frame) error

// MethodRouter dispatches an inbound frame's Type to its HandlerFunc, keyed
// by the same protocol.Type*/Method* constants the wire protocol defines.
type MethodRouter struct {
	server   *Server
	handlers map[string]HandlerFunc
}

func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]HandlerFunc)}
	r.handlers[protocol.MethodSystemPing] = r.handleSystemPing
	r.handlers[protocol.MethodSessionList] = r.handleSessionList
	r.handlers[protocol.MethodSessionLoad] = r.handleSessionLoad
	r.handlers[protocol.MethodSessionCreate] = r.handleSessionCreate
	r.handlers[protocol.MethodChatSend] = r.handleChatSend
	r.handlers[protocol.MethodChatInterrupt] = r.handleChatInterrupt
	r.handlers[protocol.MethodReviewResolve] = r.handleReviewResolve
	r.handlers[protocol.MethodAgentList] = r.handleAgentList
	r.handlers[protocol.MethodMemorySearch] = r.handleMemorySearch
	r.handlers[protocol.MethodMemoryStore] = r.handleMemoryStore
	r.handlers[protocol.MethodKnowledgeQuery] = r.handleKnowledgeQuery
	r.handlers[protocol.MethodKnowledgeCreate] = r.handleKnowledgeCreate
	r.handlers[protocol.MethodCronList] = r.handleCronList
	r.handlers[protocol.MethodCronCreate] = r.handleCronCreate
	r.handlers[protocol.MethodCronRun] = r.handleCronRun
	r.handlers[protocol.MethodModelsList] = r.handleModelsList
	r.handlers[protocol.MethodModelsUpdate] = r.handleModelsUpdate
	r.handlers[protocol.MethodAgentsCreate] = r.handleAgentsCreate
	r.handlers[protocol.MethodAgentsUpdate] = r.handleAgentsUpdate
	return r
}

// Register lets cmd/ wiring add or override a handler without widening this
// package's constructor.
func (r *MethodRouter) Register(method string, h HandlerFunc) { r.handlers[method] = h }

func (r *MethodRouter) Handle(ctx context.Context, c *Client, f *protocol.Frame) {
	if r.server.limiter != nil && r.server.limiter.Enabled() && !r.server.limiter.Allow(c.id) {
		c.sendFrame(protocol.ErrorFrame(f.ID, "rate_limited", "too many requests"))
		return
	}

	method := f.Method
	if method == "" {
		method = f.Type
	}
	h, ok := r.handlers[method]
	if !ok {
		c.sendFrame(protocol.ErrorFrame(f.ID, "unknown_method", fmt.Sprintf("no handler for %q", method)))
		return
	}
	if err := h(ctx, c, f); err != nil {
		slog.Warn("gateway: handler error", "method", method, "error", err)
		c.sendFrame(protocol.ErrorFrame(f.ID, "handler_error", err.Error()))
	}
}

func decodePayload(f *protocol.Frame, dst interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, dst)
}

func (r *MethodRouter) reply(c *Client, f *protocol.Frame, typ string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.sendFrame(&protocol.Frame{ID: f.ID, Type: typ, Payload: raw})
	return nil
}

func (r *MethodRouter) handleSystemPing(_ context.Context, c *Client, f *protocol.Frame) error {
	return r.reply(c, f, protocol.TypeSystemPong, map[string]string{"status": "ok"})
}

// --- session ---

type sessionListReq struct {
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

func (r *MethodRouter) handleSessionList(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req sessionListReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	convs, total, err := r.server.stores.Conversations.List(ctx, req.AgentID, limit, req.Offset)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"conversations": convs, "total": total})
}

type sessionLoadReq struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
}

func (r *MethodRouter) handleSessionLoad(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req sessionLoadReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return fmt.Errorf("gateway: bad conversation_id: %w", err)
	}
	conv, err := r.server.stores.Conversations.Get(ctx, id)
	if err != nil {
		return err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	history, err := r.server.stores.Conversations.History(ctx, id, limit)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"conversation": conv, "messages": history})
}

type sessionCreateReq struct {
	AgentID string `json:"agent_id"`
	Type    string `json:"type"`
}

func (r *MethodRouter) handleSessionCreate(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req sessionCreateReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	convType := req.Type
	if convType == "" {
		convType = store.ConversationTypeDirect
	}
	conv, err := r.server.stores.Conversations.GetOrCreate(ctx, nil, req.AgentID, convType)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"conversation": conv})
}

// --- chat ---

type chatSendReq struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
	Voice          bool   `json:"voice,omitempty"`
	Mode           string `json:"mode,omitempty"`
}

func (r *MethodRouter) handleChatSend(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req chatSendReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	if req.Message == "" {
		return fmt.Errorf("gateway: chat.send requires a non-empty message")
	}

	var convID *uuid.UUID
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return fmt.Errorf("gateway: bad conversation_id: %w", err)
		}
		convID = &id
		unlock := r.server.turns.lock(req.ConversationID)
		defer unlock()
	}

	runID := f.ID
	if runID == "" {
		runID = uuid.NewString()
	}

	req2 := agent.TurnRequest{
		ConversationID: convID,
		AgentID:        req.AgentID,
		UserMessage:    req.Message,
		Model:          req.Model,
		Voice:          req.Voice,
		Mode:           req.Mode,
		Flags: agent.TurnFlags{
			EnableTools:   true,
			IncludeMemory: true,
		},
		Callbacks: r.turnCallbacks(c, runID, req.ConversationID),
	}

	result, err := r.server.runtime.RunTurn(ctx, req2)
	if err != nil {
		c.sendPush(protocol.TypeChatError, map[string]string{"conversation_id": req.ConversationID, "run_id": runID, "error": err.Error()})
		return nil
	}

	c.sendPush(protocol.TypeChatRouted, protocol.ChatRoutedPayload{
		ConversationID: req.ConversationID, RunID: runID, Provider: result.Provider, Model: result.Model,
	})
	c.sendPush(protocol.TypeChatDone, protocol.ChatDonePayload{
		ConversationID: req.ConversationID, RunID: runID, Content: result.Content,
	})
	return nil
}

func (r *MethodRouter) turnCallbacks(c *Client, runID string, conversationID string) agent.Callbacks {
	return agent.Callbacks{
		OnPlan: func(steps []string) {
			c.sendPush(protocol.TypeChatPlan, protocol.ChatPlanPayload{ConversationID: conversationID, RunID: runID, Steps: steps})
		},
		OnStream: func(delta string) {
			c.sendPush(protocol.TypeChatStream, protocol.ChatStreamPayload{ConversationID: conversationID, RunID: runID, Delta: delta})
		},
		OnToolUse: func(name string, input map[string]interface{}, callID string) {
			c.sendPush(protocol.TypeChatToolUse, protocol.ChatToolUsePayload{
				ConversationID: conversationID, RunID: runID, ToolCallID: callID, Name: name, Arguments: input,
			})
		},
		OnToolResult: func(callID string, result *tools.Result) {
			c.sendPush(protocol.TypeChatToolResult, protocol.ChatToolResultPayload{
				ConversationID: conversationID, RunID: runID, ToolCallID: callID, IsError: result.IsError,
			})
		},
		OnAgentSpawn: func(childAgentID, task string) {
			c.sendPush(protocol.TypeChatAgentSpawn, protocol.ChatAgentSpawnPayload{
				ConversationID: conversationID, RunID: runID, ChildAgentID: childAgentID, Task: task,
			})
		},
		OnAgentResult: func(childAgentID, content string, isError bool, durationMS int64) {
			c.sendPush(protocol.TypeChatAgentResult, protocol.ChatAgentResultPayload{
				ConversationID: conversationID, RunID: runID, ChildAgentID: childAgentID, Content: content, IsError: isError,
			})
		},
	}
}

type chatInterruptReq struct {
	RunID string `json:"run_id"`
}

func (r *MethodRouter) handleChatInterrupt(_ context.Context, c *Client, f *protocol.Frame) error {
	var req chatInterruptReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	if !c.Interrupt(req.RunID) {
		return fmt.Errorf("gateway: no in-flight run %q", req.RunID)
	}
	return nil
}

// --- review ---

type reviewResolveReq struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
}

func (r *MethodRouter) handleReviewResolve(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.review == nil || !r.server.review.Enabled() {
		return fmt.Errorf("gateway: review queue unavailable")
	}
	var req reviewResolveReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return fmt.Errorf("gateway: bad review id: %w", err)
	}
	item, err := r.server.review.Resolve(ctx, id, req.Status, req.Resolution, req.ResolvedBy)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeReviewResolved, item)
}

// --- agent ---

func (r *MethodRouter) handleAgentList(ctx context.Context, c *Client, f *protocol.Frame) error {
	agents, err := r.server.stores.Agents.List(ctx)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"agents": agents})
}

type agentsCreateReq struct {
	Agent store.AgentRecord `json:"agent"`
}

func (r *MethodRouter) handleAgentsCreate(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req agentsCreateReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	if err := r.server.stores.Agents.Upsert(ctx, &req.Agent); err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"agent": req.Agent})
}

func (r *MethodRouter) handleAgentsUpdate(ctx context.Context, c *Client, f *protocol.Frame) error {
	return r.handleAgentsCreate(ctx, c, f)
}

// --- memory ---

type memorySearchReq struct {
	store.MemorySearchOpts
}

func (r *MethodRouter) handleMemorySearch(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.memorySvc == nil || !r.server.memorySvc.Enabled() {
		return fmt.Errorf("gateway: memory unavailable")
	}
	var req memorySearchReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	results, err := r.server.memorySvc.Search(ctx, req.MemorySearchOpts)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"results": results})
}

func (r *MethodRouter) handleMemoryStore(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.memorySvc == nil || !r.server.memorySvc.Enabled() {
		return fmt.Errorf("gateway: memory unavailable")
	}
	var m store.Memory
	if err := decodePayload(f, &m); err != nil {
		return err
	}
	saved, err := r.server.memorySvc.Write(ctx, &m)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"memory": saved})
}

// --- knowledge ---

func (r *MethodRouter) handleKnowledgeQuery(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.knowledgeSvc == nil || !r.server.knowledgeSvc.Enabled() {
		return fmt.Errorf("gateway: knowledge unavailable")
	}
	var opts store.KnowledgeQueryOpts
	if err := decodePayload(f, &opts); err != nil {
		return err
	}
	objs, total, err := r.server.knowledgeSvc.Query(ctx, opts)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"objects": objs, "total": total})
}

type knowledgeCreateReq struct {
	CollectionID string          `json:"collection_id"`
	Title        string          `json:"title"`
	Data         json.RawMessage `json:"data"`
	Tags         []string        `json:"tags,omitempty"`
	CreatedBy    string          `json:"created_by"`
}

func (r *MethodRouter) handleKnowledgeCreate(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.knowledgeSvc == nil || !r.server.knowledgeSvc.Enabled() {
		return fmt.Errorf("gateway: knowledge unavailable")
	}
	var req knowledgeCreateReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	collID, err := uuid.Parse(req.CollectionID)
	if err != nil {
		return fmt.Errorf("gateway: bad collection_id: %w", err)
	}
	obj, err := r.server.knowledgeSvc.CreateObject(ctx, collID, req.Title, req.Data, req.Tags, req.CreatedBy)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"object": obj})
}

// --- cron ---

func (r *MethodRouter) handleCronList(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.stores.Cron == nil {
		return fmt.Errorf("gateway: cron unavailable")
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	jobs, err := r.server.stores.Cron.List(ctx, req.AgentID)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"jobs": jobs})
}

func (r *MethodRouter) handleCronCreate(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.stores.Cron == nil {
		return fmt.Errorf("gateway: cron unavailable")
	}
	var job store.CronJob
	if err := decodePayload(f, &job); err != nil {
		return err
	}
	saved, err := r.server.stores.Cron.Create(ctx, &job)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"job": saved})
}

func (r *MethodRouter) handleCronRun(ctx context.Context, c *Client, f *protocol.Frame) error {
	if r.server.scheduler == nil || !r.server.scheduler.Enabled() {
		return fmt.Errorf("gateway: scheduler unavailable")
	}
	var req struct {
		AgentID       string `json:"agent_id"`
		UserMessage   string `json:"user_message"`
		SessionTarget string `json:"session_target"`
		Model         string `json:"model"`
	}
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	err := r.server.scheduler.Schedule(ctx, scheduler.LaneInteractive, scheduler.AgentTurnRequest{
		AgentID: req.AgentID, UserMessage: req.UserMessage, SessionTarget: req.SessionTarget, Model: req.Model,
	})
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"ok": true})
}

// --- models ---

func (r *MethodRouter) handleModelsList(ctx context.Context, c *Client, f *protocol.Frame) error {
	routes, err := r.server.stores.Routes.List(ctx)
	if err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"routes": routes})
}

type modelsUpdateReq struct {
	Task     string `json:"task"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (r *MethodRouter) handleModelsUpdate(ctx context.Context, c *Client, f *protocol.Frame) error {
	var req modelsUpdateReq
	if err := decodePayload(f, &req); err != nil {
		return err
	}
	if err := r.server.modelRouter.Update(ctx, req.Task, req.Provider, req.Model); err != nil {
		return err
	}
	return r.reply(c, f, protocol.TypeSessionData, map[string]interface{}{"ok": true})
}
