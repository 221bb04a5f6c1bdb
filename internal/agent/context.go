package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itellico/joi-gateway/internal/providers"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/tools"
)

const memoryDigestLimit = 8

// buildContext implements spec.md §4.G step 3: system prompt, optional
// skills enumeration, optional memory digest, the suffix, then trimmed
// history, then the current user turn.
func (rt *Runtime) buildContext(ctx context.Context, conv *store.Conversation, agentRec *store.AgentRecord, req TurnRequest, flags TurnFlags, allowedTools []tools.Tool, historyLimit int) []providers.Message {
	var sb strings.Builder
	sb.WriteString(agentRec.SystemPrompt)

	if flags.IncludeSkillsPrompt && len(allowedTools) > 0 {
		sb.WriteString("\n\n--- available tools ---\n")
		for _, t := range allowedTools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
		}
	}

	if flags.IncludeMemory && rt.Memory != nil && rt.Memory.Enabled() {
		results, err := rt.Memory.Search(ctx, store.MemorySearchOpts{Query: req.UserMessage, Limit: memoryDigestLimit})
		if err != nil {
			// Embedding/search failures must not block the turn.
			slog.Debug("agent: memory search failed, continuing without digest", "error", err)
		} else if len(results) > 0 {
			sb.WriteString("\n\n--- memory ---\n")
			for _, r := range results {
				text := r.Memory.Summary
				if text == "" {
					text = r.Memory.Content
				}
				fmt.Fprintf(&sb, "[%s] (%s, confidence=%.2f) %s\n", r.Memory.ID, r.Memory.Area, r.Memory.Confidence, truncate(text, 240))
			}
			sb.WriteString("--- end memory ---")
		}
	}

	if flags.SystemPromptSuffix != "" {
		sb.WriteString("\n\n")
		sb.WriteString(flags.SystemPromptSuffix)
	}

	messages := []providers.Message{{Role: "system", Content: sb.String()}}

	history, err := rt.Convos.History(ctx, conv.ID, historyLimit)
	if err != nil {
		slog.Warn("agent: load history failed", "error", err, "conversation", conv.ID)
	} else {
		messages = append(messages, toProviderMessages(filterTrailingUnresolved(history))...)
	}

	messages = append(messages, providers.Message{Role: "user", Content: req.UserMessage})
	return messages
}

// toolsFor implements spec.md §4.D's agent-to-tool gating: intersect the
// registry's names with the agent's skills allow-list; spawn_agent is only
// offered while maxSpawnDepth exceeds the current delegation depth.
func (rt *Runtime) toolsFor(agentRec *store.AgentRecord, depth int, enableTools bool) []tools.Tool {
	if !enableTools {
		return nil
	}
	allow := make(map[string]bool, len(agentRec.Skills))
	for _, s := range agentRec.Skills {
		allow[s] = true
	}
	var out []tools.Tool
	for _, name := range rt.Tools.List() {
		if !allow[name] {
			continue
		}
		if name == spawnAgentToolName && agentRec.Config.MaxSpawnDepth <= depth {
			continue
		}
		if t, ok := rt.Tools.Get(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// filterTrailingUnresolved drops a trailing message whose tool_calls don't
// have a matching tool_result for every call, since conversations are
// persisted as one row per turn (tool_calls + tool_results together) and a
// history window can only truncate at a row boundary, never mid-turn.
func filterTrailingUnresolved(history []*store.Message) []*store.Message {
	if len(history) == 0 {
		return history
	}
	last := history[len(history)-1]
	if len(last.ToolCalls) == 0 {
		return history
	}
	if len(last.ToolResults) < len(last.ToolCalls) {
		return history[:len(history)-1]
	}
	return history
}

// toProviderMessages expands the store's one-row-per-turn Message model
// into the provider wire format's separate assistant/tool messages.
func toProviderMessages(history []*store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(history)*2)
	for _, m := range history {
		switch m.Role {
		case store.RoleAssistant:
			var toolCalls []providers.ToolCall
			for _, tc := range m.ToolCalls {
				var args map[string]interface{}
				_ = json.Unmarshal(tc.Input, &args)
				toolCalls = append(toolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args})
			}
			out = append(out, providers.Message{Role: "assistant", Content: m.Content, ToolCalls: toolCalls})
			for _, tr := range m.ToolResults {
				out = append(out, providers.Message{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
		default:
			out = append(out, providers.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
