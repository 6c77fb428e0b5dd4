// Package config loads and validates the pipeline configuration from the
// environment. A .env file is honored for local development; real
// environment variables always win.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidConfig marks configuration that can never make forward
// progress. It is fatal and must not be retried.
var ErrInvalidConfig = errors.New("invalid configuration")

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider       string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	Model          string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	APIKey         string        `envconfig:"EMBEDDING_API_KEY"`
	BaseURL        string        `envconfig:"EMBEDDING_BASE_URL"`
	BatchSize      int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`
	MaxRetries     int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`
	RequestTimeout time.Duration `envconfig:"EMBEDDING_REQUEST_TIMEOUT" default:"30s"`
	BatchDelay     time.Duration `envconfig:"EMBEDDING_BATCH_DELAY" default:"100ms"`
}

// ChunkConfig controls the character-window chunker.
type ChunkConfig struct {
	MaxSize int `envconfig:"CHUNK_MAX_SIZE" default:"1000"`
	Overlap int `envconfig:"CHUNK_OVERLAP" default:"200"`
}

// VectorConfig points at the Qdrant instance holding embeddings.
type VectorConfig struct {
	Host       string `envconfig:"QDRANT_HOST" default:"localhost"`
	Port       int    `envconfig:"QDRANT_PORT" default:"6334"`
	Collection string `envconfig:"QDRANT_COLLECTION" default:"embeddings"`
	Dimension  int    `envconfig:"VECTOR_DIMENSION" default:"1536"`
}

// MetadataConfig locates the SQLite metadata database.
type MetadataConfig struct {
	DataDir string `envconfig:"METADATA_DATA_DIR" default:"./data"`
}

// WorkerConfig tunes the processing coordinator.
type WorkerConfig struct {
	PoolSize        int           `envconfig:"WORKER_POOL_SIZE" default:"4"`
	QueueSize       int           `envconfig:"WORKER_QUEUE_SIZE" default:"256"`
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	RetryBackoff    time.Duration `envconfig:"WORKER_RETRY_BACKOFF" default:"1m"`
	RetryBackoffMax time.Duration `envconfig:"WORKER_RETRY_BACKOFF_MAX" default:"10m"`
	TaskTimeout     time.Duration `envconfig:"WORKER_TASK_TIMEOUT" default:"10m"`
	CleanupInterval time.Duration `envconfig:"WORKER_CLEANUP_INTERVAL" default:"1h"`
	HealthInterval  time.Duration `envconfig:"WORKER_HEALTH_INTERVAL" default:"15m"`
	RetryInterval   time.Duration `envconfig:"WORKER_RETRY_INTERVAL" default:"5m"`
	TaskRetention   time.Duration `envconfig:"WORKER_TASK_RETENTION" default:"24h"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port int `envconfig:"SERVER_PORT" default:"8080"`
}

// Config is the full configuration surface consumed by the pipeline.
type Config struct {
	Embedding EmbeddingConfig
	Chunk     ChunkConfig
	Vector    VectorConfig
	Metadata  MetadataConfig
	Worker    WorkerConfig
	Server    ServerConfig
}

// Load reads configuration from a .env file (if present) and the
// environment, then validates it.
func Load() (*Config, error) {
	// Ignore errors: env vars may be set in the shell.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on parameters that would prevent the pipeline from
// making forward progress.
func (c *Config) Validate() error {
	if c.Chunk.MaxSize <= 0 {
		return fmt.Errorf("%w: chunk max size must be positive, got %d", ErrInvalidConfig, c.Chunk.MaxSize)
	}
	if c.Chunk.Overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must be non-negative, got %d", ErrInvalidConfig, c.Chunk.Overlap)
	}
	if c.Chunk.Overlap >= c.Chunk.MaxSize {
		// Equal or greater overlap would stall the chunk cursor.
		return fmt.Errorf("%w: chunk overlap %d must be smaller than max size %d",
			ErrInvalidConfig, c.Chunk.Overlap, c.Chunk.MaxSize)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: embedding batch size must be positive, got %d", ErrInvalidConfig, c.Embedding.BatchSize)
	}
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive, got %d", ErrInvalidConfig, c.Vector.Dimension)
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("%w: worker pool size must be positive, got %d", ErrInvalidConfig, c.Worker.PoolSize)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("%w: worker queue size must be positive, got %d", ErrInvalidConfig, c.Worker.QueueSize)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("%w: worker max retries must be non-negative, got %d", ErrInvalidConfig, c.Worker.MaxRetries)
	}
	return nil
}
