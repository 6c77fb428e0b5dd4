// Package main provides the HTTP server entry point for the ingestion
// pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvid-labs/ragpipe/internal/chunk"
	"github.com/corvid-labs/ragpipe/internal/config"
	"github.com/corvid-labs/ragpipe/internal/coordinator"
	"github.com/corvid-labs/ragpipe/internal/embedding"
	"github.com/corvid-labs/ragpipe/internal/ingest"
	"github.com/corvid-labs/ragpipe/internal/metastore"
	"github.com/corvid-labs/ragpipe/internal/server"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	vectors, err := vectorstore.NewStore(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, cfg.Vector.Dimension)
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	meta, err := metastore.Open(cfg.Metadata.DataDir)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer meta.Close()

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	embedder := embedding.NewEmbedder(provider, cfg.Embedding, logger)

	chunker, err := chunk.NewChunker(cfg.Chunk.MaxSize, cfg.Chunk.Overlap)
	if err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	loaders := ingest.NewRegistry(ingest.NewFileLoader())

	coord, err := coordinator.New(cfg.Worker, loaders, chunker, embedder, vectors, meta, logger)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	go coord.Run(ctx)
	defer coord.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:      server.New(coord, logger).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
