// Package coordinator drives documents through the ingestion pipeline:
// load, chunk, embed, persist vectors, persist metadata. It owns the
// retry state machine and the task-status surface the API layer polls.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/corvid-labs/ragpipe/internal/chunk"
	"github.com/corvid-labs/ragpipe/internal/config"
	"github.com/corvid-labs/ragpipe/internal/ingest"
	"github.com/corvid-labs/ragpipe/internal/metastore"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

// VectorStore is the contract the coordinator needs from the vector
// layer.
type VectorStore interface {
	Store(ctx context.Context, records []vectorstore.Record) error
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]vectorstore.SearchResult, error)
	SearchWithFilter(ctx context.Context, vector []float32, filters map[string]string, limit int, threshold float64) ([]vectorstore.SearchResult, error)
	DeleteBySource(ctx context.Context, source string) error
	GetStats(ctx context.Context) (*vectorstore.Stats, error)
	Health(ctx context.Context) error
}

// MetadataStore is the contract the coordinator needs from the metadata
// layer.
type MetadataStore interface {
	ClaimDocument(ctx context.Context, path, filename string, size int64, fileType string, metadata map[string]string) error
	StoreMetadata(ctx context.Context, source string, chunks []metastore.Chunk) error
	UpdateProcessingStatus(ctx context.Context, source, status, message string) error
	GetProcessingStats(ctx context.Context, recent int) (*metastore.ProcessingStats, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]metastore.Document, error)
	DeleteDocument(ctx context.Context, source string) error
	Health(ctx context.Context) error
}

// EmbeddingService is the contract the coordinator needs from the
// embedding layer.
type EmbeddingService interface {
	EmbedChunks(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimension() int
}

// Stats aggregates both stores for the stats endpoint.
type Stats struct {
	Vector     vectorstore.Stats
	Processing metastore.ProcessingStats
}

// Coordinator owns the worker pool, the bounded task queue and the task
// registry.
type Coordinator struct {
	cfg      config.WorkerConfig
	loaders  *ingest.Registry
	chunker  *chunk.Chunker
	embedder EmbeddingService
	vectors  VectorStore
	meta     MetadataStore
	logger   *slog.Logger

	pool   *ants.Pool
	queue  chan string
	tasks  *taskTable
	done   chan struct{}
	closed chan struct{}
}

// New creates a Coordinator. Call Run to start consuming tasks.
func New(
	cfg config.WorkerConfig,
	loaders *ingest.Registry,
	chunker *chunk.Chunker,
	embedder EmbeddingService,
	vectors VectorStore,
	meta MetadataStore,
	logger *slog.Logger,
) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Coordinator{
		cfg:      cfg,
		loaders:  loaders,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		logger:   logger.With("component", "coordinator"),
		pool:     pool,
		queue:    make(chan string, cfg.QueueSize),
		tasks:    newTaskTable(),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}, nil
}

// Run consumes the task queue until ctx is cancelled or Close is called.
// Each queued task is handed to the worker pool; Submit blocks when all
// workers are busy, which bounds in-flight work.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.closed)

	c.startSchedulers(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case id := <-c.queue:
			taskID := id
			if err := c.pool.Submit(func() {
				c.runTask(ctx, taskID)
			}); err != nil {
				c.failTask(ctx, taskID, fmt.Errorf("submitting to pool: %w", err))
			}
		}
	}
}

// Close stops the queue consumer and releases the worker pool. In-flight
// tasks finish their current attempt.
func (c *Coordinator) Close() {
	close(c.done)
	<-c.closed
	c.pool.Release()
}

// SubmitDocument enqueues one document-processing task and returns its
// id. The type hint is advisory; loaders still decide by extension.
func (c *Coordinator) SubmitDocument(path, typeHint string) (string, error) {
	task := &Task{
		ID:          uuid.New().String(),
		Kind:        KindProcessDocument,
		Source:      path,
		TypeHint:    typeHint,
		State:       StateQueued,
		SubmittedAt: time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	c.tasks.put(task)

	select {
	case c.queue <- task.ID:
		return task.ID, nil
	default:
		c.tasks.update(task.ID, func(t *Task) {
			t.State = StateFailed
			t.LastError = ErrQueueFull.Error()
		})
		return "", ErrQueueFull
	}
}

// SubmitResult is the outcome of one batch submission entry: either a
// task id or the rejection error.
type SubmitResult struct {
	Path   string
	TaskID string
	Err    error
}

// SubmitBatch enqueues one independent task per path. A failed
// submission records its error without blocking siblings; results are
// positionally aligned with paths.
func (c *Coordinator) SubmitBatch(paths []string) []SubmitResult {
	results := make([]SubmitResult, len(paths))
	for i, path := range paths {
		id, err := c.SubmitDocument(path, "")
		if err != nil {
			c.logger.Warn("batch submission rejected", "path", path, "error", err)
		}
		results[i] = SubmitResult{Path: path, TaskID: id, Err: err}
	}
	return results
}

// GetTaskStatus returns a snapshot of the task, or ErrTaskNotFound for
// an unknown id.
func (c *Coordinator) GetTaskStatus(id string) (Task, error) {
	task, ok := c.tasks.get(id)
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// Cancel revokes a task. Revoking before it starts prevents execution;
// a task already running finishes its current attempt, relying on the
// stores' transaction boundaries for consistency.
func (c *Coordinator) Cancel(id string) error {
	ok := c.tasks.update(id, func(t *Task) {
		t.cancelled = true
		if t.State == StateQueued {
			t.State = StateFailed
			t.LastError = "cancelled before execution"
		}
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// Search embeds the query and runs similarity search, optionally with a
// metadata filter.
func (c *Coordinator) Search(ctx context.Context, query string, filters map[string]string, limit int, threshold float64) ([]vectorstore.SearchResult, error) {
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(filters) > 0 {
		return c.vectors.SearchWithFilter(ctx, vector, filters, limit, threshold)
	}
	return c.vectors.Search(ctx, vector, limit, threshold)
}

// DeleteSource removes a source from both stores. Idempotent.
func (c *Coordinator) DeleteSource(ctx context.Context, source string) error {
	if err := c.vectors.DeleteBySource(ctx, source); err != nil {
		return err
	}
	return c.meta.DeleteDocument(ctx, source)
}

// GetStats aggregates store statistics. It never fails: a data-layer
// hiccup logs internally and yields zeroed figures so dashboards degrade
// gracefully.
func (c *Coordinator) GetStats(ctx context.Context) Stats {
	var stats Stats
	if vs, err := c.vectors.GetStats(ctx); err != nil {
		c.logger.Warn("vector stats unavailable", "error", err)
	} else {
		stats.Vector = *vs
	}
	if ps, err := c.meta.GetProcessingStats(ctx, 10); err != nil {
		c.logger.Warn("processing stats unavailable", "error", err)
	} else {
		stats.Processing = *ps
	}
	return stats
}

// Health probes each subsystem and reports per-subsystem status.
func (c *Coordinator) Health(ctx context.Context) map[string]string {
	checks := map[string]string{
		"vector_store":   "ok",
		"metadata_store": "ok",
	}
	if err := c.vectors.Health(ctx); err != nil {
		checks["vector_store"] = err.Error()
	}
	if err := c.meta.Health(ctx); err != nil {
		checks["metadata_store"] = err.Error()
	}
	return checks
}

// runTask executes one attempt of a task.
func (c *Coordinator) runTask(ctx context.Context, id string) {
	task, ok := c.tasks.get(id)
	if !ok || task.cancelled || task.State.Terminal() {
		return
	}

	c.tasks.update(id, func(t *Task) {
		t.State = StateProcessing
		t.Attempts++
	})

	taskCtx := ctx
	if c.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, c.cfg.TaskTimeout)
		defer cancel()
	}

	if err := c.processDocument(taskCtx, id, task.Source); err != nil {
		c.handleFailure(ctx, id, task.Source, err)
		return
	}

	c.tasks.update(id, func(t *Task) {
		t.State = StateCompleted
		t.LastError = ""
	})
	c.logger.Info("task completed", "task", id, "source", task.Source)
}

// processDocument runs the full pipeline for one source: load, claim,
// chunk, embed, store vectors, store metadata.
func (c *Coordinator) processDocument(ctx context.Context, id, source string) error {
	loader, err := c.loaders.For(source)
	if err != nil {
		return err
	}
	raw, err := loader.Load(ctx, source)
	if err != nil {
		return fmt.Errorf("loading: %w", err)
	}

	// Exclusive claim serializes processing per source path.
	if err := c.meta.ClaimDocument(ctx, source, raw.Meta.Filename, raw.Meta.Size, raw.Meta.Type, raw.Meta.Extra); err != nil {
		return err
	}

	chunks := c.chunker.Split(chunk.Clean(raw.Text))
	c.logger.Debug("chunked document", "task", id, "source", source, "chunks", len(chunks))

	c.tasks.update(id, func(t *Task) { t.State = StateEmbedding })

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	embeddings, err := c.embedder.EmbedChunks(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	c.tasks.update(id, func(t *Task) { t.State = StateStoring })

	now := time.Now().UTC()
	records := make([]vectorstore.Record, len(chunks))
	metaChunks := make([]metastore.Chunk, len(chunks))
	for i, ch := range chunks {
		chunkMeta := map[string]string{
			"source_file": source,
			"file_type":   raw.Meta.Type,
		}
		for k, v := range raw.Meta.Extra {
			chunkMeta[k] = v
		}
		records[i] = vectorstore.Record{
			Content:    ch.Content,
			Embedding:  embeddings[i],
			Metadata:   chunkMeta,
			Source:     source,
			ChunkIndex: ch.Index,
			CreatedAt:  now,
		}
		metaChunks[i] = metastore.Chunk{
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			Metadata:   chunkMeta,
		}
	}

	if err := c.vectors.Store(ctx, records); err != nil {
		return fmt.Errorf("storing vectors: %w", err)
	}
	if err := c.meta.StoreMetadata(ctx, source, metaChunks); err != nil {
		return fmt.Errorf("storing metadata: %w", err)
	}

	c.tasks.update(id, func(t *Task) { t.Chunks = len(chunks) })
	return nil
}

// handleFailure records the failure and either schedules a retry (for
// retryable errors under the attempt cap) or finalizes the task.
func (c *Coordinator) handleFailure(ctx context.Context, id, source string, taskErr error) {
	task, _ := c.tasks.get(id)
	c.logger.Warn("task attempt failed",
		"task", id, "source", source, "attempt", task.Attempts, "error", taskErr)

	// Don't stomp another worker's claim with a failed status.
	if !errors.Is(taskErr, metastore.ErrAlreadyProcessing) {
		if err := c.meta.UpdateProcessingStatus(context.WithoutCancel(ctx), source, metastore.StatusFailed, taskErr.Error()); err != nil &&
			!errors.Is(err, metastore.ErrNotFound) {
			c.logger.Warn("recording failure status", "source", source, "error", err)
		}
	}

	if isRetryable(taskErr) && task.Attempts <= c.cfg.MaxRetries && !task.cancelled {
		delay := c.retryDelay(task.Attempts)
		c.tasks.update(id, func(t *Task) {
			t.State = StateQueued
			t.LastError = taskErr.Error()
			t.ScheduledAt = time.Now().UTC().Add(delay)
		})
		c.logger.Info("scheduling retry", "task", id, "attempt", task.Attempts, "delay", delay)

		time.AfterFunc(delay, func() { c.requeue(ctx, id) })
		return
	}

	c.failTask(ctx, id, taskErr)
}

// requeue puts a retry back on the queue, giving up when the run
// context is cancelled or the coordinator is closed so the timer
// goroutine never outlives the consumer.
func (c *Coordinator) requeue(ctx context.Context, id string) {
	select {
	case c.queue <- id:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Coordinator) failTask(_ context.Context, id string, taskErr error) {
	c.tasks.update(id, func(t *Task) {
		t.State = StateFailed
		t.LastError = taskErr.Error()
	})
}

// retryDelay doubles the initial backoff per attempt, capped at the
// configured maximum.
func (c *Coordinator) retryDelay(attempt int) time.Duration {
	delay := c.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.RetryBackoffMax {
			return c.cfg.RetryBackoffMax
		}
	}
	if c.cfg.RetryBackoffMax > 0 && delay > c.cfg.RetryBackoffMax {
		delay = c.cfg.RetryBackoffMax
	}
	return delay
}
