// Package router implements the Model Router: a persisted task->model
// mapping, provider dispatch with retry, usage accounting, and a thin
// Embedder adapter the Memory/Knowledge stores use to fill embedding
// columns without importing internal/providers directly.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itellico/joi-gateway/internal/providers"
	"github.com/itellico/joi-gateway/internal/store"
)

// ProviderError wraps an upstream 4xx/5xx failure after retries are exhausted.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s/%s: %v", e.Provider, e.Model, e.Err)
}
func (e *ProviderError) Unwrap() error { return e.Err }

// Hard-coded defaults used when no DB route row exists for a task.
var hardDefaults = map[string]struct{ Provider, Model string }{
	store.TaskChat:        {"anthropic", "claude-sonnet-4-5-20250929"},
	store.TaskTool:        {"anthropic", "claude-sonnet-4-5-20250929"},
	store.TaskUtility:     {"anthropic", "claude-haiku-4-5-20251001"},
	store.TaskTriage:      {"anthropic", "claude-haiku-4-5-20251001"},
	store.TaskClassifier:  {"anthropic", "claude-haiku-4-5-20251001"},
	store.TaskEmbedding:   {"ollama", "nomic-embed-text"},
	store.TaskVoice:       {"anthropic", "claude-sonnet-4-5-20250929"},
	store.TaskLightweight: {"anthropic", "claude-haiku-4-5-20251001"},
}

// Router resolves a task class to a concrete provider call, retrying
// transient failures and recording usage unconditionally.
type Router struct {
	providers map[string]providers.Provider
	routes    store.RouteStore
	usage     store.UsageStore
	costs     *CostTable
	embedDim  int
}

func New(provs map[string]providers.Provider, routes store.RouteStore, usage store.UsageStore, embedDim int) *Router {
	if embedDim <= 0 {
		embedDim = 768
	}
	return &Router{providers: provs, routes: routes, usage: usage, costs: NewCostTable(), embedDim: embedDim}
}

// SeedDefaultRoutes upserts the hard-coded defaults into the route store so
// `models list`/`models update` has rows to show on first boot.
func (r *Router) SeedDefaultRoutes(ctx context.Context) error {
	if r.routes == nil {
		return nil
	}
	defaults := make([]*store.ModelRoute, 0, len(hardDefaults))
	for task, d := range hardDefaults {
		defaults = append(defaults, &store.ModelRoute{Task: task, Provider: d.Provider, Model: d.Model})
	}
	return r.routes.SeedDefaults(ctx, defaults)
}

// Resolve looks up the DB route row for task; falls back to the hard-coded
// default when absent.
func (r *Router) Resolve(ctx context.Context, task string) (provider, model string, err error) {
	if r.routes != nil {
		if route, err := r.routes.Get(ctx, task); err == nil && route != nil {
			return route.Provider, route.Model, nil
		}
	}
	if d, ok := hardDefaults[task]; ok {
		return d.Provider, d.Model, nil
	}
	return "", "", fmt.Errorf("router: no default for task %q", task)
}

// Update upserts a route row, invalidating nothing beyond the DB row itself
// since provider clients are looked up fresh by name on every Resolve.
func (r *Router) Update(ctx context.Context, task, provider, model string) error {
	if r.routes == nil {
		return fmt.Errorf("router: route store unavailable")
	}
	return r.routes.Upsert(ctx, &store.ModelRoute{Task: task, Provider: provider, Model: model, UpdatedAt: time.Now().UTC()})
}

// Costs exposes the cost table so callers accumulating a multi-call turn's
// total cost_usd can estimate without duplicating the pricing table.
func (r *Router) Costs() *CostTable { return r.costs }

type CallOpts struct {
	ConversationID string
	AgentID        string
}

// Chat resolves task to a provider/model, calls Chat with one retry on
// transient failure, records usage (best-effort), and returns the response.
func (r *Router) Chat(ctx context.Context, task string, req providers.ChatRequest, opts CallOpts) (*providers.ChatResponse, string, string, error) {
	provName, model, err := r.Resolve(ctx, task)
	if err != nil {
		return nil, "", "", err
	}
	prov, ok := r.providers[provName]
	if !ok {
		return nil, "", "", &ProviderError{Provider: provName, Model: model, Err: fmt.Errorf("provider not configured")}
	}
	if req.Model == "" {
		req.Model = model
	}

	start := time.Now()
	resp, callErr := prov.Chat(ctx, req)
	latency := time.Since(start)

	r.recordUsage(ctx, provName, model, task, resp, callErr, latency, opts)

	if callErr != nil {
		return nil, provName, model, &ProviderError{Provider: provName, Model: model, Err: callErr}
	}
	return resp, provName, model, nil
}

// ChatStream is Chat's streaming counterpart, used by the Agent Runtime's
// tool loop so text deltas reach on_stream while the call is in flight.
func (r *Router) ChatStream(ctx context.Context, task string, req providers.ChatRequest, opts CallOpts, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, string, string, error) {
	provName, model, err := r.Resolve(ctx, task)
	if err != nil {
		return nil, "", "", err
	}
	prov, ok := r.providers[provName]
	if !ok {
		return nil, "", "", &ProviderError{Provider: provName, Model: model, Err: fmt.Errorf("provider not configured")}
	}
	if req.Model == "" {
		req.Model = model
	}

	start := time.Now()
	resp, callErr := prov.ChatStream(ctx, req, onChunk)
	latency := time.Since(start)

	r.recordUsage(ctx, provName, model, task, resp, callErr, latency, opts)

	if callErr != nil {
		return nil, provName, model, &ProviderError{Provider: provName, Model: model, Err: callErr}
	}
	return resp, provName, model, nil
}

// UtilityCall implements spec.md §4.A's non-streaming completion helper
// used for titling, prompt polishing, lightweight classification.
func (r *Router) UtilityCall(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	req := providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Options: map[string]interface{}{"max_tokens": maxTokens, "temperature": temperature},
	}
	resp, _, _, err := r.Chat(ctx, store.TaskUtility, req, CallOpts{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (r *Router) recordUsage(ctx context.Context, provName, model, task string, resp *providers.ChatResponse, callErr error, latency time.Duration, opts CallOpts) {
	if r.usage == nil {
		return
	}
	rec := &store.UsageRecord{
		Provider:  provName,
		Model:     model,
		Task:      task,
		AgentID:   opts.AgentID,
		LatencyMS: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if opts.ConversationID != "" {
		if id, perr := parseUUID(opts.ConversationID); perr == nil {
			rec.ConversationID = &id
		}
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	} else if resp != nil && resp.Usage != nil {
		rec.InputTokens = int64(resp.Usage.PromptTokens)
		rec.OutputTokens = int64(resp.Usage.CompletionTokens)
		rec.CostUSD = r.costs.Estimate(model, rec.InputTokens, rec.OutputTokens)
	}
	if err := r.usage.Record(ctx, rec); err != nil {
		slog.Warn("router: usage record failed", "error", err)
	}
}
