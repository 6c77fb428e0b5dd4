// Package server exposes the pipeline's boundary operations over HTTP:
// document submission, task polling, search, deletion and stats. It is a
// thin layer; all behavior lives in the coordinator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/corvid-labs/ragpipe/internal/coordinator"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

// Pipeline is the coordinator surface the HTTP layer exposes.
type Pipeline interface {
	SubmitDocument(path, typeHint string) (string, error)
	SubmitBatch(paths []string) []coordinator.SubmitResult
	GetTaskStatus(id string) (coordinator.Task, error)
	Search(ctx context.Context, query string, filters map[string]string, limit int, threshold float64) ([]vectorstore.SearchResult, error)
	DeleteSource(ctx context.Context, source string) error
	GetStats(ctx context.Context) coordinator.Stats
	Health(ctx context.Context) map[string]string
}

// Server wires HTTP routes to the coordinator.
type Server struct {
	coord  Pipeline
	logger *slog.Logger
}

// New creates a Server.
func New(coord Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{coord: coord, logger: logger.With("component", "server")}
}

// Routes returns the HTTP mux for all endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /documents", s.handleSubmit)
	mux.HandleFunc("POST /documents/batch", s.handleSubmitBatch)
	mux.HandleFunc("GET /tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("POST /search", s.handleSearch)
	// Sources are file paths, so the trailing wildcard keeps slashes.
	mux.HandleFunc("DELETE /sources/{source...}", s.handleDelete)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

type submitRequest struct {
	Path     string `json:"path"`
	TypeHint string `json:"type_hint,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	id, err := s.coord.SubmitDocument(req.Path, req.TypeHint)
	if err != nil {
		if errors.Is(err, coordinator.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: id})
}

type batchRequest struct {
	Paths []string `json:"paths"`
}

type batchEntry struct {
	Path   string `json:"path"`
	TaskID string `json:"task_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type batchResponse struct {
	Tasks []batchEntry `json:"tasks"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths are required")
		return
	}

	results := s.coord.SubmitBatch(req.Paths)
	entries := make([]batchEntry, len(results))
	for i, res := range results {
		entries[i] = batchEntry{Path: res.Path, TaskID: res.TaskID}
		if res.Err != nil {
			entries[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusAccepted, batchResponse{Tasks: entries})
}

type taskResponse struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.coord.GetTaskStatus(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, coordinator.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{
		ID:       task.ID,
		Source:   task.Source,
		State:    string(task.State),
		Attempts: task.Attempts,
		Chunks:   task.Chunks,
		Error:    task.LastError,
	})
}

type searchRequest struct {
	Query     string            `json:"query"`
	Filters   map[string]string `json:"filters,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Threshold float64           `json:"threshold,omitempty"`
}

type searchResult struct {
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	ChunkIndex int               `json:"chunk_index"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
	Total   int            `json:"total"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	results, err := s.coord.Search(r.Context(), req.Query, req.Filters, req.Limit, req.Threshold)
	if err != nil {
		// Degrade gracefully: log and return an empty result set.
		s.logger.Warn("search failed", "error", err)
		writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: []searchResult{}})
		return
	}

	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			Content:    res.Content,
			Source:     res.Source,
			ChunkIndex: res.ChunkIndex,
			Similarity: res.Similarity,
			Metadata:   res.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: out, Total: len(out)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if err := s.coord.DeleteSource(r.Context(), source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "source": source})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.coord.GetStats(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"total_embeddings": stats.Vector.TotalEmbeddings,
		"unique_sources":   stats.Vector.UniqueSources,
		"avg_similarity":   stats.Vector.AvgSimilarity,
		"total_documents":  stats.Processing.TotalDocuments,
		"total_chunks":     stats.Processing.TotalChunks,
		"status_breakdown": stats.Processing.StatusCounts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
