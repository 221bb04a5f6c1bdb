package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/itellico/joi-gateway/internal/providers"
	"github.com/itellico/joi-gateway/internal/store"
)

// runClaudeCode implements Claude-Code mode: the turn is handed wholesale to
// an external CLI process rather than the Model Router's tool loop. Tool
// dispatch, streaming, and cost accounting all happen inside that process;
// run_turn's job here is limited to conversation resolution, forwarding
// callbacks, and persisting whatever content comes back.
func (rt *Runtime) runClaudeCode(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if rt.ClaudeCode == nil {
		return nil, fmt.Errorf("agent: claude-code mode requested but no runner configured")
	}

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
		return nil, fmt.Errorf("agent: resolve agent %q: %w", conv.AgentID, err)
	}

	start := time.Now()
	content, runErr := rt.ClaudeCode.Run(ctx, agentRec.SystemPrompt, req.UserMessage, req.Callbacks)
	elapsed := time.Since(start).Milliseconds()
	if runErr != nil {
		return nil, fmt.Errorf("agent: claude-code run: %w", runErr)
	}

	content = SanitizeAssistantContent(content)

	finalMsg := &store.Message{
		ConversationID: conv.ID,
		Role:           store.RoleAssistant,
		Content:        content,
	}
	var messageID *uuid.UUID
	if err := rt.Convos.AppendMessage(ctx, finalMsg); err != nil {
		slog.Warn("agent: persist claude-code message failed", "error", err, "conversation", conv.ID)
	} else {
		messageID = &finalMsg.ID
	}

	conv.UpdatedAt = time.Now().UTC()
	if conv.Title == "" {
		conv.Title = truncate(req.UserMessage, 80)
	}
	if err := rt.Convos.Update(ctx, conv); err != nil {
		slog.Warn("agent: update conversation failed", "error", err, "conversation", conv.ID)
	}

	return &TurnResult{
		MessageID: messageID,
		Content:   content,
		Model:     "claude-code",
		Provider:  "claude-code",
		Usage:     providers.Usage{},
		Timings:   Timings{ProviderMS: elapsed},
	}, nil
}
