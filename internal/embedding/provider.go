// Package embedding turns chunk text into fixed-dimension vectors through
// a pluggable provider and computes cosine similarity between them.
package embedding

import (
	"context"
	"fmt"

	"github.com/corvid-labs/ragpipe/internal/config"
)

// Provider is the capability set a concrete embedding backend must expose.
// EmbedQuery is kept distinct from EmbedText/EmbedBatch because some
// backends use asymmetric request modes for queries versus documents.
type Provider interface {
	// EmbedText embeds a single document text.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in one request, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query, using the backend's query mode
	// where it has one.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	// Dimension reports the vector length this provider produces.
	Dimension() int
	// Model reports the configured model name.
	Model() string
}

// NewProvider selects a concrete provider by the configured key.
// Unknown keys fail fast with ErrUnsupportedProvider.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg)
	case "voyage":
		return newVoyageProvider(cfg)
	case "local":
		return newLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
