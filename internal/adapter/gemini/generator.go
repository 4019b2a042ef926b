package gemini

import (
	"context"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"wprag/internal/provider"
)

var _ provider.Generator = (*Generator)(nil)

type Generator struct {
	lazyClient
	model   string
	timeout time.Duration
}

func NewGenerator(cfg Config) *Generator {
	model := cfg.GenerateModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Generator{
		lazyClient: lazyClient{apiKey: cfg.APIKey, opts: cfg.ClientOptions},
		model:      model,
		timeout:    timeout,
	}
}

// Generate returns the text parts of the first candidate, or "" when the
// model produced no candidates.
func (g *Generator) Generate(ctx context.Context, prompt, system string) (string, error) {
	client, err := g.get(ctx)
	if err != nil {
		return "", err
	}

	// a fresh model per call; SystemInstruction is per-request state
	model := client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", requestError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String()), nil
}
