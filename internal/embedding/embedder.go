package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvid-labs/ragpipe/internal/config"
)

// Embedder orchestrates batch embedding over a Provider. It partitions
// input into fixed-size batches, issues them sequentially with a
// cooperative delay between batches to respect upstream rate limits, and
// concatenates results in input order.
type Embedder struct {
	provider   Provider
	batchSize  int
	batchDelay time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// NewEmbedder creates an Embedder around the configured provider.
func NewEmbedder(provider Provider, cfg config.EmbeddingConfig, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{
		provider:   provider,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		timeout:    cfg.RequestTimeout,
		logger:     logger.With("component", "embedder", "model", provider.Model()),
	}
}

// Provider returns the underlying provider.
func (e *Embedder) Provider() Provider { return e.provider }

// Dimension reports the vector length of the configured provider.
func (e *Embedder) Dimension() int { return e.provider.Dimension() }

// EmbedChunks embeds texts in batches. Exactly len(texts) vectors are
// returned in input order; a failed batch fails the whole call rather than
// dropping items.
func (e *Embedder) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vecs, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, vecs...)

		if end < len(texts) && e.batchDelay > 0 {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	e.logger.Debug("embedded chunks", "count", len(all))
	return all, nil
}

// EmbedQuery embeds a search query using the provider's query mode.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.provider.EmbedQuery(ctx, query)
}

// EmbedText embeds a single document text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.provider.EmbedText(ctx, text)
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.provider.EmbedBatch(ctx, texts)
}

// callContext bounds each provider call independently of the overall task
// timeout.
func (e *Embedder) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
