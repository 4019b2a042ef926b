package openai

import (
	"context"
	"strings"
	"time"

	"wprag/internal/provider"
)

var _ provider.Generator = (*Generator)(nil)

type responsesRequest struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions,omitempty"`
	Input        string `json:"input"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// Generator calls the Responses endpoint.
type Generator struct {
	c client
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{c: newClient(cfg, 90*time.Second)}
}

func (g *Generator) Generate(ctx context.Context, prompt, system string) (string, error) {
	var resp responsesResponse
	req := responsesRequest{Model: g.c.model, Instructions: system, Input: prompt}
	if err := g.c.post(ctx, "/responses", req, &resp); err != nil {
		return "", err
	}

	if resp.OutputText != "" {
		return resp.OutputText, nil
	}

	var parts []string
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}
