package tools

import (
	"log/slog"

	"github.com/itellico/joi-gateway/internal/providers"
)

// SpawnAgentTool is the name of the pseudo-tool injected into an agent's
// tool set only when its remaining spawn depth budget is positive.
const SpawnAgentTool = "spawn_agent"

// PolicyEngine computes tools_for(agent) = intersect(registry.names,
// agent.skills), per spec.md §4.D — gating is an explicit allow-list
// intersection, nothing more layered than that.
type PolicyEngine struct{}

// NewPolicyEngine creates a policy engine. Kept as a constructor (rather
// than a bare function) to match the teacher's PolicyEngine shape, since
// future per-provider tool-visibility rules would hang off this type.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{}
}

// FilterTools returns the provider-facing tool definitions an agent may
// call: every registered tool whose name appears in skills, plus
// spawn_agent when depth < maxSpawnDepth.
func (pe *PolicyEngine) FilterTools(registry *Registry, agentID string, skills []string, depth, maxSpawnDepth int) []providers.ToolDefinition {
	allow := make(map[string]bool, len(skills))
	for _, s := range skills {
		allow[s] = true
	}

	var defs []providers.ToolDefinition
	for _, name := range registry.List() {
		if !allow[name] {
			continue
		}
		if tool, ok := registry.Get(name); ok {
			defs = append(defs, ToProviderDef(tool))
		}
	}

	if depth < maxSpawnDepth {
		if tool, ok := registry.Get(SpawnAgentTool); ok {
			defs = append(defs, ToProviderDef(tool))
		}
	}

	slog.Debug("tool policy applied", "agent", agentID, "depth", depth,
		"max_spawn_depth", maxSpawnDepth, "allowed", len(defs))

	return defs
}
