package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

func parseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

// embeddingCapable is implemented by OpenAI-compatible providers (openrouter,
// ollama). Anthropic has no embeddings API and does not implement this.
type embeddingCapable interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Embed implements pg.Embedder by calling the embedding task's resolved
// provider, so the store package stays free of provider imports.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	provName, model, err := r.Resolve(ctx, store.TaskEmbedding)
	if err != nil {
		return nil, err
	}
	ep, ok := r.providers[provName].(embeddingCapable)
	if !ok {
		return nil, fmt.Errorf("router: provider %s does not support embeddings", provName)
	}
	vec, err := ep.Embed(ctx, model, text)
	if err != nil {
		return nil, err
	}
	if r.embedDim > 0 && len(vec) > 0 && len(vec) != r.embedDim {
		vec = resize(vec, r.embedDim)
	}
	return vec, nil
}

func resize(v []float32, n int) []float32 {
	if len(v) == n {
		return v
	}
	out := make([]float32, n)
	copy(out, v)
	return out
}
