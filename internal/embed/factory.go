package embed

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/agenthands/prism/internal/config"
)

// NewClient builds the configured embedding provider.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Dimension), nil

	case "ollama":
		// Ollama serves the OpenAI embeddings API under /v1.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // dummy, Ollama ignores it
		}
		log.Printf("Initializing Ollama embeddings via OpenAI-compatible API at %s", baseURL)
		return NewOpenAIEmbedder(apiKey, cfg.Model, baseURL, cfg.Dimension), nil

	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimension)

	case "hash":
		// Deterministic local vectors; no model server required.
		return NewHashEmbedder(cfg.Dimension), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
}
