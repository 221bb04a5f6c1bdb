package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Embed calls the provider's OpenAI-compatible embeddings endpoint.
// Only OpenAIProvider implements this — Anthropic has no embeddings API,
// so the embedding task class must always route to openrouter or ollama.
func (p *OpenAIProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	path := "/embeddings"
	body := map[string]interface{}{"model": model, "input": text}
	if p.name == "ollama" {
		// Ollama's documented stable path takes "prompt" rather than the
		// OpenAI-shaped "input".
		path = "/api/embeddings"
		body = map[string]interface{}{"model": model, "prompt": text}
	}

	respBody, err := RetryDo(ctx, p.retryConfig, func() ([]byte, error) {
		return p.embedPost(ctx, path, body)
	})
	if err != nil {
		return nil, err
	}

	if path == "/api/embeddings" {
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, err
		}
		return parsed.Embedding, nil
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings: empty response")
	}
	return parsed.Data[0].Embedding, nil
}

func (p *OpenAIProvider) embedPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, strings.TrimSpace(string(respBody))),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return respBody, nil
}
