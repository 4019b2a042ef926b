package openai

import (
	"context"
	"fmt"
	"time"

	"wprag/internal/provider"
)

var _ provider.Embedder = (*Embedder)(nil)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embedder sends all inputs in one request.
type Embedder struct {
	c client
}

func NewEmbedder(cfg Config) *Embedder {
	return &Embedder{c: newClient(cfg, 60*time.Second)}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	if err := e.c.post(ctx, "/embeddings", embeddingRequest{Model: e.c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}

	// the API may return items out of order; index is authoritative
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: no embedding returned for input %d", i)
		}
	}
	return out, nil
}
