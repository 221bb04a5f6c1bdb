package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/itellico/joi-gateway/internal/tools"
)

type turnContextKey struct{}

// TurnContext carries the state spawn_agent needs that Execute's plain
// map[string]interface{} args can't: which runtime, agent and delegation
// depth the current turn is running at, plus the parent
// turn's callbacks so chat.agent_spawn/chat.agent_result reach the client.
type TurnContext struct {
	Runtime     *Runtime
	AgentID     string
	Depth       int
	Callbacks   Callbacks
	Delegations *[]DelegationResult
}

func withTurnContext(ctx context.Context, tc *TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

func turnContextFrom(ctx context.Context) (*TurnContext, bool) {
	tc, ok := ctx.Value(turnContextKey{}).(*TurnContext)
	return tc, ok
}

// SpawnAgentTool implements delegation: a running turn hands a bounded
// sub-task to another named agent and waits for its result. Depth is
// enforced by toolsFor, which never offers this tool once
// Config.MaxSpawnDepth would be exceeded by the next call.
type SpawnAgentTool struct{}

func NewSpawnAgentTool() *SpawnAgentTool { return &SpawnAgentTool{} }

func (t *SpawnAgentTool) Name() string { return spawnAgentToolName }

func (t *SpawnAgentTool) Description() string {
	return "Delegate a bounded sub-task to another agent by name and return its final reply."
}

func (t *SpawnAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_id": map[string]interface{}{
				"type":        "string",
				"description": "Name of the agent to delegate to.",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The sub-task to hand off, phrased as a complete instruction.",
			},
		},
		"required": []string{"agent_id", "task"},
	}
}

func (t *SpawnAgentTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	tc, ok := turnContextFrom(ctx)
	if !ok || tc.Runtime == nil {
		return tools.ErrorResult("spawn_agent: unavailable outside a running turn")
	}

	childAgentID, _ := args["agent_id"].(string)
	task, _ := args["task"].(string)
	if childAgentID == "" || task == "" {
		return tools.ErrorResult("spawn_agent: agent_id and task are required")
	}

	if tc.Callbacks.OnAgentSpawn != nil {
		tc.Callbacks.OnAgentSpawn(childAgentID, task)
	}

	start := time.Now()
	result, err := tc.Runtime.RunTurn(ctx, TurnRequest{
		AgentID:       childAgentID,
		UserMessage:   task,
		Depth:         tc.Depth + 1,
		SessionTarget: "isolated",
		Flags: TurnFlags{
			EnableTools: true,
		},
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if tc.Callbacks.OnAgentResult != nil {
			tc.Callbacks.OnAgentResult(childAgentID, err.Error(), true, elapsed)
		}
		if tc.Delegations != nil {
			*tc.Delegations = append(*tc.Delegations, DelegationResult{ChildAgentID: childAgentID, Err: err, DurationMS: elapsed})
		}
		return tools.ErrorResult(fmt.Sprintf("spawn_agent %q failed: %v", childAgentID, err))
	}

	if tc.Callbacks.OnAgentResult != nil {
		tc.Callbacks.OnAgentResult(childAgentID, result.Content, false, elapsed)
	}
	if tc.Delegations != nil {
		*tc.Delegations = append(*tc.Delegations, DelegationResult{ChildAgentID: childAgentID, Content: result.Content, DurationMS: elapsed})
	}
	return tools.NewResult(result.Content)
}
