package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/corvid-labs/ragpipe/internal/config"
)

// fakeProvider records batch calls and returns a distinct vector per
// input so ordering is observable.
type fakeProvider struct {
	batches   [][]string
	failBatch int
	counter   float32
}

func (f *fakeProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.failBatch > 0 && len(f.batches) == f.failBatch {
		return nil, fmt.Errorf("%w: simulated failure", ErrProvider)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		f.counter++
		out[i] = []float32{f.counter, 0, 0}
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return f.EmbedText(ctx, query)
}

func (f *fakeProvider) Dimension() int { return 3 }
func (f *fakeProvider) Model() string  { return "fake" }

func testEmbeddingConfig(batchSize int) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Model:     "fake",
		BatchSize: batchSize,
	}
}

func TestEmbedChunks_PreservesCountAndOrder(t *testing.T) {
	provider := &fakeProvider{}
	embedder := NewEmbedder(provider, testEmbeddingConfig(3), nil)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vecs, err := embedder.EmbedChunks(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedChunks failed: %v", err)
	}

	if len(vecs) != len(texts) {
		t.Fatalf("Expected %d vectors, got %d", len(texts), len(vecs))
	}
	// The fake numbers vectors sequentially, so order is verifiable.
	for i, vec := range vecs {
		if vec[0] != float32(i+1) {
			t.Errorf("Vector %d out of order: got %v", i, vec[0])
		}
	}

	// 7 texts with batch size 3 means batches of 3, 3, 1.
	if len(provider.batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(provider.batches))
	}
	wantSizes := []int{3, 3, 1}
	for i, batch := range provider.batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("Batch %d: expected %d texts, got %d", i, wantSizes[i], len(batch))
		}
	}
}

func TestEmbedChunks_Empty(t *testing.T) {
	embedder := NewEmbedder(&fakeProvider{}, testEmbeddingConfig(10), nil)

	vecs, err := embedder.EmbedChunks(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedChunks failed: %v", err)
	}
	if vecs != nil {
		t.Errorf("Expected no vectors for empty input, got %d", len(vecs))
	}
}

func TestEmbedChunks_BatchFailurePropagates(t *testing.T) {
	provider := &fakeProvider{failBatch: 2}
	embedder := NewEmbedder(provider, testEmbeddingConfig(2), nil)

	_, err := embedder.EmbedChunks(context.Background(), []string{"a", "b", "c", "d"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("Expected ErrProvider, got %v", err)
	}
}

func TestEmbedChunks_CancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testEmbeddingConfig(1)
	cfg.BatchDelay = time.Minute
	embedder := NewEmbedder(&fakeProvider{}, cfg, nil)

	_, err := embedder.EmbedChunks(ctx, []string{"a", "b"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(config.EmbeddingConfig{Provider: "hallucinated"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("Expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewProvider_LocalRequiresBaseURL(t *testing.T) {
	_, err := NewProvider(config.EmbeddingConfig{Provider: "local", Model: "all-minilm"})
	if err == nil {
		t.Fatal("Expected error for local provider without base URL")
	}
}
