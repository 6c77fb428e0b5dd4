package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/corvid-labs/ragpipe/internal/config"
)

// openaiDimensions maps supported OpenAI models to their vector length.
var openaiDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// openaiProvider embeds text through the OpenAI embeddings API.
// Requests are retried with exponential backoff on rate-limit errors;
// other API errors fail immediately.
type openaiProvider struct {
	client openai.Client
	model  string
	dim    int
}

func newOpenAIProvider(cfg config.EmbeddingConfig) (*openaiProvider, error) {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	dim, ok := openaiDimensions[cfg.Model]
	if !ok {
		dim = 1536
	}

	return &openaiProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		dim:    dim,
	}, nil
}

func (p *openaiProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *openaiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // retried with backoff
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrProvider, err)
	}
	return embeddings, nil
}

// EmbedQuery embeds a query with the same request mode as documents; the
// OpenAI API does not distinguish the two.
func (p *openaiProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return p.EmbedText(ctx, query)
}

func (p *openaiProvider) Dimension() int { return p.dim }

func (p *openaiProvider) Model() string { return p.model }

// isRateLimitError checks for HTTP 429 from the OpenAI API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts the API's float64 vectors to the float32 the vector
// store persists.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
