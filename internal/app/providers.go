package app

import (
	"wprag/internal/adapter/gemini"
	"wprag/internal/adapter/openai"
	"wprag/internal/config"
	"wprag/internal/provider"
)

// NewEmbedder picks the embedding backend once, from EMBEDDING_PROVIDER.
// Keys are checked on first use, not here.
func NewEmbedder(cfg *config.Config) provider.Embedder {
	if cfg.EmbeddingProvider == config.ProviderGemini {
		return gemini.NewEmbedder(gemini.Config{
			APIKey:            cfg.GeminiAPIKey,
			EmbeddingModel:    cfg.GeminiEmbeddingModel,
			RequestsPerSecond: cfg.GeminiEmbedRPS,
			Timeout:           cfg.HTTPTimeout(),
		})
	}
	return openai.NewEmbedder(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIEmbeddingModel,
		Timeout: cfg.HTTPTimeout(),
	})
}

func NewGenerator(cfg *config.Config) provider.Generator {
	if cfg.LLMProvider == config.ProviderGemini {
		return gemini.NewGenerator(gemini.Config{
			APIKey:        cfg.GeminiAPIKey,
			GenerateModel: cfg.GeminiGenerateModel,
			Timeout:       cfg.GenerationTimeout(),
		})
	}
	return openai.NewGenerator(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIResponsesModel,
		Timeout: cfg.GenerationTimeout(),
	})
}
