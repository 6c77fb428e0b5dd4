package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corvid-labs/ragpipe/internal/config"
)

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// voyageDimensions maps supported Voyage models to their vector length.
var voyageDimensions = map[string]int{
	"voyage-3":       1024,
	"voyage-3-lite":  512,
	"voyage-large-3": 1536,
}

// voyageProvider embeds text through the Voyage AI REST API. Voyage uses
// asymmetric embeddings: documents and queries are sent with distinct
// input types and must not be collapsed into one mode.
type voyageProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	dim        int
}

func newVoyageProvider(cfg config.EmbeddingConfig) (*voyageProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: voyage requires EMBEDDING_API_KEY", config.ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = voyageEndpoint
	}

	dim, ok := voyageDimensions[cfg.Model]
	if !ok {
		dim = 1024
	}

	return &voyageProvider{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		dim:        dim,
	}, nil
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *voyageProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, "document")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *voyageProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, texts, "document")
}

// EmbedQuery uses Voyage's query input type, which produces vectors tuned
// for retrieval against document embeddings.
func (p *voyageProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{query}, "query")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *voyageProvider) Dimension() int { return p.dim }

func (p *voyageProvider) Model() string { return p.model }

func (p *voyageProvider) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	body, err := json.Marshal(voyageRequest{
		Input:     texts,
		Model:     p.model,
		InputType: inputType,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding voyage request: %w", err)
	}

	var embeddings [][]float32

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err // network failures are retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("voyage returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("voyage returned %d: %s", resp.StatusCode, data))
		}

		var parsed voyageResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding voyage response: %w", err))
		}
		if len(parsed.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data)))
		}

		embeddings = make([][]float32, len(parsed.Data))
		for _, data := range parsed.Data {
			embeddings[data.Index] = data.Embedding
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: voyage: %v", ErrProvider, err)
	}
	return embeddings, nil
}
