// Package agent implements the Agent Runtime: run_turn processes exactly
// one user message through context assembly, the Model Router, and the
// provider's streaming tool loop, then persists the result.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/memory"
	"github.com/itellico/joi-gateway/internal/providers"
	"github.com/itellico/joi-gateway/internal/router"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/tools"
	"github.com/itellico/joi-gateway/internal/tracing"
)

const (
	defaultMaxToolIterations = 8
	defaultHistoryLimit      = 8

	// spawnAgentToolName is the delegation tool gated by Config.MaxSpawnDepth.
	spawnAgentToolName = "spawn_agent"
)

// defaultToolIntentPattern is the lightweight regex gate over domain
// keywords used when no caller-supplied predicate is configured.
var defaultToolIntentPattern = regexp.MustCompile(`(?i)\b(search|fetch|http|url|file|read|write|run|execute|calculate|schedule|remind|calendar|email|send|weather|remember|recall|lookup|query|create|delete|update|spawn|delegate)\b`)

// ToolLoopExhausted is returned when the provider/tool exchange exceeds the
// max-iterations cap without the provider emitting end-of-turn with no
// pending calls.
type ToolLoopExhausted struct {
	Iterations int
}

func (e *ToolLoopExhausted) Error() string {
	return fmt.Sprintf("agent: tool loop exhausted after %d iterations", e.Iterations)
}

// Callbacks are the per-turn streaming hooks run_turn drives while moving
// through Routing -> Contexting -> Streaming<->ToolDispatch -> Persisting -> Done.
type Callbacks struct {
	OnPlan        func(steps []string)
	OnStream      func(delta string)
	OnToolUse     func(name string, input map[string]interface{}, callID string)
	OnToolResult  func(callID string, result *tools.Result)
	OnAgentSpawn  func(childAgentID, task string)
	OnAgentResult func(childAgentID, content string, isError bool, durationMS int64)
}

func (c Callbacks) plan(steps []string) {
	if c.OnPlan != nil {
		c.OnPlan(steps)
	}
}
func (c Callbacks) stream(delta string) {
	if delta != "" && c.OnStream != nil {
		c.OnStream(delta)
	}
}
func (c Callbacks) toolUse(name string, input map[string]interface{}, callID string) {
	if c.OnToolUse != nil {
		c.OnToolUse(name, input, callID)
	}
}
func (c Callbacks) toolResult(callID string, result *tools.Result) {
	if c.OnToolResult != nil {
		c.OnToolResult(callID, result)
	}
}

// TurnFlags toggles optional turn behavior.
type TurnFlags struct {
	EnableTools         bool
	ForceToolUse        bool
	IncludeMemory       bool
	IncludeSkillsPrompt bool
	HistoryLimit        int
	SystemPromptSuffix  string
}

// TurnRequest is run_turn's input: one user message against one agent.
type TurnRequest struct {
	ConversationID *uuid.UUID
	AgentID        string
	UserMessage    string
	Attachments    []store.Attachment
	Model          string // override
	ToolTask       string // override for the task class passed to the Model Router
	Flags          TurnFlags
	Callbacks      Callbacks

	Mode  string // "" (default) | "claude-code"
	Voice bool

	Depth         int    // delegation depth; 0 for a top-level turn
	SessionTarget string // "" | "isolated" (set by spawn_agent)
}

// Timings breaks down run_turn's wall-clock cost by phase.
type Timings struct {
	RouteMS    int64
	ContextMS  int64
	ProviderMS int64
	ToolMS     int64
}

// DelegationResult records one spawn_agent call made during this turn.
type DelegationResult struct {
	ChildAgentID string
	Content      string
	Err          error
	DurationMS   int64
}

// TurnResult is run_turn's output.
type TurnResult struct {
	MessageID   *uuid.UUID
	Content     string
	Model       string
	Provider    string
	Usage       providers.Usage
	CostUSD     float64
	Timings     Timings
	Delegations []DelegationResult
}

// ClaudeCodeRunner delegates a whole turn to an external CLI process,
// streaming its stdout and parsing its tool-use envelopes. Supplied by
// cmd/ wiring; Claude-Code mode is unavailable when nil.
type ClaudeCodeRunner interface {
	Run(ctx context.Context, systemPrompt, userMessage string, cb Callbacks) (content string, err error)
}

// Runtime is the Agent Runtime: the entry point that processes one user
// message per RunTurn call, for any agent_id and conversation.
type Runtime struct {
	Agents store.AgentStore
	Convos store.ConversationStore
	Router *router.Router
	Memory *memory.Service
	Tools  *tools.Registry
	Events bus.EventPublisher

	MaxToolIterations int
	ToolIntentRe      *regexp.Regexp
	ClaudeCode        ClaudeCodeRunner
}

func NewRuntime(agents store.AgentStore, convos store.ConversationStore, rtr *router.Router, mem *memory.Service, toolReg *tools.Registry, events bus.EventPublisher) *Runtime {
	return &Runtime{
		Agents:            agents,
		Convos:            convos,
		Router:            rtr,
		Memory:            mem,
		Tools:             toolReg,
		Events:            events,
		MaxToolIterations: defaultMaxToolIterations,
		ToolIntentRe:      defaultToolIntentPattern,
	}
}

// RunTurn processes exactly one user message end to end.
func (rt *Runtime) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Mode == "claude-code" {
		return rt.runClaudeCode(ctx, req)
	}

	cb := req.Callbacks
	var timings Timings

	// 1. Conversation resolution.
	convType := store.ConversationTypeDirect
	if req.SessionTarget == "isolated" {
		convType = "isolated"
	}
	conv, err := rt.Convos.GetOrCreate(ctx, req.ConversationID, req.AgentID, convType)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve conversation: %w", err)
	}
	agentRec, err := rt.Agents.Get(ctx, conv.AgentID)
	if err != nil {
		return nil, fmt.Errorf("agent: load agent %q: %w", conv.AgentID, err)
	}

	// 2. Persist user message immediately.
	userMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        req.UserMessage,
		Attachments:    req.Attachments,
	}
	if err := rt.Convos.AppendMessage(ctx, userMsg); err != nil {
		slog.Warn("agent: persist user message failed", "error", err, "conversation", conv.ID)
	}

	// Voice mode's tool-intent gate is mandatory and overrides caller flags.
	flags := req.Flags
	voiceGated := req.Voice && !rt.ToolIntentRe.MatchString(req.UserMessage)
	if voiceGated {
		flags.EnableTools = false
		flags.IncludeMemory = false
	}

	// 3. Context assembly.
	contextStart := time.Now()
	ctxSpanCtx, ctxSpan := tracing.StartSpan(ctx, "context", "agent.build_context")
	historyLimit := flags.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	allowedTools := rt.toolsFor(agentRec, req.Depth, flags.EnableTools)
	messages := rt.buildContext(ctxSpanCtx, conv, agentRec, req, flags, allowedTools, historyLimit)
	ctxSpan.End()
	timings.ContextMS = time.Since(contextStart).Milliseconds()

	// 4/5. Tool preparation + two-phase routing.
	routeStart := time.Now()
	var toolDefs []providers.ToolDefinition
	for _, t := range allowedTools {
		toolDefs = append(toolDefs, tools.ToProviderDef(t))
	}
	task := rt.resolveTask(req, flags)
	timings.RouteMS = time.Since(routeStart).Milliseconds()

	opts := router.CallOpts{ConversationID: conv.ID.String(), AgentID: conv.AgentID}

	// 9. Delegation plumbing: spawn_agent reads this back out of ctx.
	var delegations []DelegationResult
	ctx = withTurnContext(ctx, &TurnContext{
		Runtime:     rt,
		AgentID:     conv.AgentID,
		Depth:       req.Depth,
		Callbacks:   cb,
		Delegations: &delegations,
	})

	// 6/7. Tool loop.
	var totalUsage providers.Usage
	var costUSD float64
	var allToolCalls []store.ToolCall
	var allToolResults []store.ToolResult
	var finalContent, provName, model string
	planEmitted := false
	iteration := 0
	forceRetried := false
	interrupted := false

	for {
		iteration++
		if iteration > rt.MaxToolIterations {
			return nil, &ToolLoopExhausted{Iterations: iteration - 1}
		}

		chatReq := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    req.Model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: 0.7,
			},
		}
		if flags.ForceToolUse && forceRetried {
			chatReq.Messages = append(append([]providers.Message{}, messages...), providers.Message{
				Role:    "user",
				Content: "You must call one of the available tools to fulfil this request; do not reply with text only.",
			})
		}

		var draft strings.Builder
		providerStart := time.Now()
		spanCtx, span := tracing.StartSpan(ctx, "provider", "agent.provider_call",
			attribute.String("task", task), attribute.Int("iteration", iteration))
		resp, pName, m, callErr := rt.Router.ChatStream(spanCtx, task, chatReq, opts, func(chunk providers.StreamChunk) {
			delta := chunk.Content
			if req.Voice {
				delta = stripBracketedTags(delta)
			}
			draft.WriteString(chunk.Content)
			cb.stream(delta)
			if chunk.Thinking != "" {
				// thinking deltas are not part of the wire contract; logged only.
				slog.Debug("agent: thinking delta", "len", len(chunk.Thinking))
			}
		})
		if callErr != nil {
			span.RecordError(callErr)
		}
		span.End()
		timings.ProviderMS += time.Since(providerStart).Milliseconds()
		provName, model = pName, m

		if callErr != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				finalContent = draft.String() + " [Interrupted by user]"
				interrupted = true
				break
			}
			cb.stream(fmt.Sprintf("[error: %v]", callErr))
			finalContent = draft.String()
			break
		}

		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
			costUSD += rt.Router.Costs().Estimate(model, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
		}

		if len(resp.ToolCalls) == 0 {
			if flags.ForceToolUse && !forceRetried {
				forceRetried = true
				continue
			}
			finalContent = resp.Content
			break
		}

		if !planEmitted {
			cb.plan(derivePlanSteps(resp.ToolCalls))
			planEmitted = true
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		toolMS := time.Now()
		for _, tc := range resp.ToolCalls {
			cb.toolUse(tc.Name, tc.Arguments, tc.ID)

			toolCtx, toolSpan := tracing.StartSpan(ctx, "tool", "agent.tool_call", attribute.String("tool", tc.Name))
			t, ok := rt.Tools.Get(tc.Name)
			var result *tools.Result
			var cancelFiller func()
			if req.Voice {
				cancelFiller = startProgressFiller(cb.stream)
			}
			if !ok {
				result = tools.ErrorResult(fmt.Sprintf("unknown tool %q", tc.Name))
			} else {
				result = t.Execute(toolCtx, tc.Arguments)
			}
			if cancelFiller != nil {
				cancelFiller()
			}
			if result.IsError {
				toolSpan.SetStatus(codes.Error, result.ForLLM)
			}
			toolSpan.End()

			cb.toolResult(tc.ID, result)

			input, _ := json.Marshal(tc.Arguments)
			allToolCalls = append(allToolCalls, store.ToolCall{ID: tc.ID, Name: tc.Name, Input: input})
			allToolResults = append(allToolResults, store.ToolResult{ToolCallID: tc.ID, Content: result.ForLLM, IsError: result.IsError})

			messages = append(messages, providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID})
		}
		timings.ToolMS += time.Since(toolMS).Milliseconds()
	}

	// 8. Persistence.
	persistCtx := ctx
	if interrupted {
		persistCtx = context.Background()
	}
	finalContent = SanitizeAssistantContent(finalContent)
	finalMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        finalContent,
		ToolCalls:      allToolCalls,
		ToolResults:    allToolResults,
		Model:          model,
		Usage: store.TokenUsage{
			InputTokens:  int64(totalUsage.PromptTokens),
			OutputTokens: int64(totalUsage.CompletionTokens),
		},
	}
	var messageID *uuid.UUID
	if err := rt.Convos.AppendMessage(persistCtx, finalMsg); err != nil {
		slog.Warn("agent: persist assistant message failed", "error", err, "conversation", conv.ID)
	} else {
		messageID = &finalMsg.ID
	}

	conv.UpdatedAt = time.Now().UTC()
	if conv.Title == "" {
		conv.Title = truncate(req.UserMessage, 80)
	}
	if err := rt.Convos.Update(persistCtx, conv); err != nil {
		slog.Warn("agent: update conversation failed", "error", err, "conversation", conv.ID)
	}

	return &TurnResult{
		MessageID:   messageID,
		Content:     finalContent,
		Model:       model,
		Provider:    provName,
		Usage:       totalUsage,
		CostUSD:     costUSD,
		Timings:     timings,
		Delegations: delegations,
	}, nil
}

// resolveTask implements the two-phase routing decision of spec.md §4.G
// step 5: a caller override wins outright, voice always wins next, then the
// tool-intent predicate decides lightweight/chat vs tool.
func (rt *Runtime) resolveTask(req TurnRequest, flags TurnFlags) string {
	if req.ToolTask != "" {
		return req.ToolTask
	}
	if req.Voice {
		return store.TaskVoice
	}
	if !flags.ForceToolUse && flags.EnableTools && !rt.ToolIntentRe.MatchString(req.UserMessage) {
		return store.TaskLightweight
	}
	return store.TaskTool
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// derivePlanSteps turns pending tool calls into the short imperative step
// list emitted before the first tool executes.
func derivePlanSteps(calls []providers.ToolCall) []string {
	steps := make([]string, 0, len(calls))
	for _, c := range calls {
		steps = append(steps, humanizeToolName(c.Name))
	}
	return steps
}

func humanizeToolName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	phrase := strings.Join(words, " ")
	phrase = strings.TrimSuffix(phrase, " Now")
	phrase = strings.TrimSuffix(phrase, " I Am")
	return phrase
}
