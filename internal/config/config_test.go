package config

import (
	"errors"
	"testing"
)

func validConfig() Config {
	return Config{
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		},
		Chunk:  ChunkConfig{MaxSize: 1000, Overlap: 200},
		Vector: VectorConfig{Host: "localhost", Port: 6334, Collection: "embeddings", Dimension: 1536},
		Worker: WorkerConfig{PoolSize: 4, QueueSize: 256, MaxRetries: 3},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Chunk.MaxSize = 0 }},
		{"negative overlap", func(c *Config) { c.Chunk.Overlap = -1 }},
		{"overlap equals max size", func(c *Config) { c.Chunk.Overlap = c.Chunk.MaxSize }},
		{"overlap exceeds max size", func(c *Config) { c.Chunk.Overlap = c.Chunk.MaxSize + 1 }},
		{"zero batch size", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"zero dimension", func(c *Config) { c.Vector.Dimension = 0 }},
		{"zero pool size", func(c *Config) { c.Worker.PoolSize = 0 }},
		{"zero queue size", func(c *Config) { c.Worker.QueueSize = 0 }},
		{"negative retries", func(c *Config) { c.Worker.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
