package llm

import (
	"context"
	"errors"
)

// DefaultMaxTokens bounds a review answer; verdicts are a few hundred tokens at most.
const DefaultMaxTokens = 512

// systemPrompt is sent alongside every review prompt.
const systemPrompt = "You judge whether news event records describe the same real-world event. Answer with one JSON object and nothing else."

var (
	ErrEmbeddingsUnsupported = errors.New("embeddings not supported by this provider")
	ErrEmptyResponse         = errors.New("empty response from provider")
)

// LLMClient answers a single prompt with text. The advisory reviewer expects JSON back.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbedderClient turns text into a dense vector for similarity scoring.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}
