package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"

	"wprag/internal/provider"
)

// MaxEmbedChars is the per-request text limit; longer input is truncated.
const MaxEmbedChars = 20000

var _ provider.Embedder = (*Embedder)(nil)

// Embedder embeds one text per request. Empty inputs are skipped, so the
// result can be shorter than the input.
type Embedder struct {
	lazyClient
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

func NewEmbedder(cfg Config) *Embedder {
	model := cfg.EmbeddingModel
	if model == "" {
		model = "gemini-embedding-001"
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Embedder{
		lazyClient: lazyClient{apiKey: cfg.APIKey, opts: cfg.ClientOptions},
		model:      model,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := e.get(ctx)
	if err != nil {
		return nil, err
	}
	em := client.EmbeddingModel(e.model)

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		text = truncateRunes(text, MaxEmbedChars)

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vec, err := e.embedOne(ctx, em, text)
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "model", e.model, "length", len(text), "error", err)
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *Embedder) embedOne(ctx context.Context, em *genai.EmbeddingModel, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, requestError(err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini: empty embedding received")
	}
	return res.Embedding.Values, nil
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
