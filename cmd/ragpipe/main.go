// Package main provides the ragpipe CLI for document ingestion and
// retrieval.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/ragpipe/internal/chunk"
	"github.com/corvid-labs/ragpipe/internal/config"
	"github.com/corvid-labs/ragpipe/internal/coordinator"
	"github.com/corvid-labs/ragpipe/internal/embedding"
	"github.com/corvid-labs/ragpipe/internal/ingest"
	"github.com/corvid-labs/ragpipe/internal/metastore"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

var (
	searchLimit     int
	searchThreshold float64
	searchFilters   []string
)

var rootCmd = &cobra.Command{
	Use:   "ragpipe",
	Short: "Document ingestion and retrieval pipeline",
	Long:  "CLI for chunking, embedding and indexing documents into Qdrant with SQLite metadata",
}

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Process documents into the index",
	Long: `Chunks, embeds and stores each document.

Environment variables:
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  EMBEDDING_PROVIDER  Embedding provider: openai, voyage, local (default: openai)
  EMBEDDING_API_KEY   Provider API key
  METADATA_DATA_DIR   SQLite data directory (default: ./data)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed documents by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and processing statistics",
	RunE:  runStats,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <source>",
	Short: "Remove a source and all its chunks from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "minimum similarity score")
	searchCmd.Flags().StringSliceVar(&searchFilters, "filter", nil, "metadata filter as key=value (repeatable)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// pipeline bundles the wired components a command needs.
type pipeline struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	vectors *vectorstore.Store
	meta    *metastore.Store
}

func (p *pipeline) close() {
	p.coord.Close()
	p.meta.Close()
	p.vectors.Close()
}

// buildPipeline wires the full stack from environment configuration.
func buildPipeline(ctx context.Context, logger *slog.Logger) (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	vectors, err := vectorstore.NewStore(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, cfg.Vector.Dimension)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		vectors.Close()
		return nil, fmt.Errorf("ensuring collection: %w", err)
	}

	meta, err := metastore.Open(cfg.Metadata.DataDir)
	if err != nil {
		vectors.Close()
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		meta.Close()
		vectors.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder := embedding.NewEmbedder(provider, cfg.Embedding, logger)

	chunker, err := chunk.NewChunker(cfg.Chunk.MaxSize, cfg.Chunk.Overlap)
	if err != nil {
		meta.Close()
		vectors.Close()
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	coord, err := coordinator.New(cfg.Worker, ingest.NewRegistry(ingest.NewFileLoader()), chunker, embedder, vectors, meta, logger)
	if err != nil {
		meta.Close()
		vectors.Close()
		return nil, fmt.Errorf("creating coordinator: %w", err)
	}
	go coord.Run(ctx)

	return &pipeline{cfg: cfg, coord: coord, vectors: vectors, meta: meta}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	defer p.close()

	start := time.Now()
	results := p.coord.SubmitBatch(args)

	fmt.Printf("Processing %d document(s)...\n", len(args))

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  - %s: %v\n", res.Path, res.Err)
			failed++
			continue
		}
		task, err := waitForTask(ctx, p.coord, res.TaskID)
		if err != nil {
			return err
		}
		if task.State == coordinator.StateCompleted {
			fmt.Printf("  + %s: %d chunk(s)\n", task.Source, task.Chunks)
		} else {
			fmt.Printf("  - %s: %s\n", task.Source, task.LastError)
			failed++
		}
	}

	fmt.Println()
	fmt.Printf("Done in %s (%d succeeded, %d failed)\n",
		time.Since(start).Round(time.Millisecond), len(args)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

// waitForTask polls until the task reaches a terminal state.
func waitForTask(ctx context.Context, coord *coordinator.Coordinator, id string) (coordinator.Task, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := coord.GetTaskStatus(id)
		if err != nil {
			return coordinator.Task{}, err
		}
		if task.State.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return coordinator.Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	defer p.close()

	filters, err := parseFilters(searchFilters)
	if err != nil {
		return err
	}

	results, err := p.coord.Search(ctx, args[0], filters, searchLimit, searchThreshold)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}

	for i, res := range results {
		fmt.Printf("%d. [%.4f] %s (chunk %d)\n", i+1, res.Similarity, res.Source, res.ChunkIndex)
		fmt.Printf("   %s\n", truncate(res.Content, 200))
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	defer p.close()

	stats := p.coord.GetStats(ctx)

	fmt.Println("Index:")
	fmt.Printf("  Embeddings: %d\n", stats.Vector.TotalEmbeddings)
	fmt.Printf("  Sources:    %d\n", stats.Vector.UniqueSources)
	fmt.Println("Processing:")
	fmt.Printf("  Documents:  %d\n", stats.Processing.TotalDocuments)
	fmt.Printf("  Chunks:     %d\n", stats.Processing.TotalChunks)
	for status, count := range stats.Processing.StatusCounts {
		fmt.Printf("  %-11s %d\n", status+":", count)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.coord.DeleteSource(ctx, args[0]); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		filters[key] = value
	}
	return filters, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
