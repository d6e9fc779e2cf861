package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/canon/internal/config"
)

// NewClient builds the advisory client for cfg.Provider. The embedder is nil for providers
// without embeddings.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL, cfg.MaxTokens)
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.MaxTokens)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
		return c, nil, nil

	case "ollama":
		// Ollama speaks the OpenAI API under /v1; the key is ignored but must be set.
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, ollamaBaseURL(cfg.BaseURL), cfg.MaxTokens)
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// NewEmbedder builds the similarity embedder. It uses the [llm] embedding_* overrides when
// set, so a Claude reviewer can be paired with an OpenAI or Gemini embedder.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig) (EmbedderClient, error) {
	sub := cfg
	if cfg.EmbeddingProvider != "" {
		sub.Provider = cfg.EmbeddingProvider
		sub.BaseURL = cfg.EmbeddingBaseURL
		if cfg.EmbeddingAPIKey != "" {
			sub.APIKey = cfg.EmbeddingAPIKey
		}
	}
	_, embedder, err := NewClient(ctx, sub)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingsUnsupported, sub.Provider)
	}
	return embedder, nil
}

func ollamaBaseURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL
	}
	return fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
}
