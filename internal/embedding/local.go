package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/corvid-labs/ragpipe/internal/config"
)

// localProvider embeds text through an OpenAI-compatible endpoint such as
// Ollama or LM Studio, via langchaingo. Useful for air-gapped setups.
type localProvider struct {
	embedder embeddings.Embedder
	model    string
	dim      int
}

func newLocalProvider(cfg config.EmbeddingConfig) (*localProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: local provider requires EMBEDDING_BASE_URL", config.ErrInvalidConfig)
	}

	token := cfg.APIKey
	if token == "" {
		// Local OpenAI-compatible services accept any token.
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating local embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("wrapping local embedder: %w", err)
	}

	return &localProvider{
		embedder: embedder,
		model:    cfg.Model,
		dim:      localDimension(cfg.Model),
	}, nil
}

// localDimension guesses the vector length for common local models.
// Unknown models default to 768 (nomic-embed-text and friends).
func localDimension(model string) int {
	switch model {
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

func (p *localProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *localProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: local: %v", ErrProvider, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: local: expected %d embeddings, got %d", ErrProvider, len(texts), len(vecs))
	}
	return vecs, nil
}

// EmbedQuery uses langchaingo's query path, which some local models map to
// a dedicated query prompt prefix.
func (p *localProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: local: %v", ErrProvider, err)
	}
	return vec, nil
}

func (p *localProvider) Dimension() int { return p.dim }

func (p *localProvider) Model() string { return p.model }
