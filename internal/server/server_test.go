package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/ragpipe/internal/coordinator"
	"github.com/corvid-labs/ragpipe/internal/vectorstore"
)

type stubPipeline struct {
	submitErr error
	task      coordinator.Task
	taskErr   error
	results   []vectorstore.SearchResult
	searchErr error
	health    map[string]string
	batchErrs map[string]error

	deleted      string
	searchedWith map[string]string
}

func (s *stubPipeline) SubmitDocument(path, typeHint string) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "task-1", nil
}

func (s *stubPipeline) SubmitBatch(paths []string) []coordinator.SubmitResult {
	results := make([]coordinator.SubmitResult, len(paths))
	for i, path := range paths {
		if s.batchErrs != nil && s.batchErrs[path] != nil {
			results[i] = coordinator.SubmitResult{Path: path, Err: s.batchErrs[path]}
			continue
		}
		results[i] = coordinator.SubmitResult{Path: path, TaskID: fmt.Sprintf("task-%d", i+1)}
	}
	return results
}

func (s *stubPipeline) GetTaskStatus(id string) (coordinator.Task, error) {
	return s.task, s.taskErr
}

func (s *stubPipeline) Search(ctx context.Context, query string, filters map[string]string, limit int, threshold float64) ([]vectorstore.SearchResult, error) {
	s.searchedWith = filters
	return s.results, s.searchErr
}

func (s *stubPipeline) DeleteSource(ctx context.Context, source string) error {
	s.deleted = source
	return nil
}

func (s *stubPipeline) GetStats(ctx context.Context) coordinator.Stats {
	return coordinator.Stats{Vector: vectorstore.Stats{TotalEmbeddings: 7, UniqueSources: 2}}
}

func (s *stubPipeline) Health(ctx context.Context) map[string]string {
	if s.health != nil {
		return s.health
	}
	return map[string]string{"vector_store": "ok", "metadata_store": "ok"}
}

func doRequest(t *testing.T, stub *stubPipeline, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	New(stub, nil).Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_OK(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Subsystems["vector_store"])
	assert.NotEmpty(t, resp.Timestamp)
}

func TestHandleHealth_Unhealthy(t *testing.T) {
	stub := &stubPipeline{health: map[string]string{
		"vector_store":   "connection refused",
		"metadata_store": "ok",
	}}
	rec := doRequest(t, stub, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestHandleSubmit(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodPost, "/documents",
		submitRequest{Path: "/docs/a.txt"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp.TaskID)
}

func TestHandleSubmit_MissingPath(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodPost, "/documents", submitRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit_QueueFull(t *testing.T) {
	stub := &stubPipeline{submitErr: coordinator.ErrQueueFull}
	rec := doRequest(t, stub, http.MethodPost, "/documents", submitRequest{Path: "/docs/a.txt"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSubmitBatch(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodPost, "/documents/batch",
		batchRequest{Paths: []string{"/docs/a.txt", "/docs/b.txt"}})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "/docs/a.txt", resp.Tasks[0].Path)
	assert.Equal(t, "task-1", resp.Tasks[0].TaskID)
	assert.Equal(t, "task-2", resp.Tasks[1].TaskID)
	assert.Empty(t, resp.Tasks[0].Error)
}

func TestHandleSubmitBatch_ReportsPerEntryErrors(t *testing.T) {
	stub := &stubPipeline{batchErrs: map[string]error{
		"/docs/b.txt": coordinator.ErrQueueFull,
	}}
	rec := doRequest(t, stub, http.MethodPost, "/documents/batch",
		batchRequest{Paths: []string{"/docs/a.txt", "/docs/b.txt"}})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	assert.NotEmpty(t, resp.Tasks[0].TaskID)
	assert.Empty(t, resp.Tasks[1].TaskID)
	assert.Contains(t, resp.Tasks[1].Error, "queue")
}

func TestHandleTaskStatus(t *testing.T) {
	stub := &stubPipeline{task: coordinator.Task{
		ID:       "task-1",
		Source:   "/docs/a.txt",
		State:    coordinator.StateCompleted,
		Attempts: 1,
		Chunks:   4,
	}}
	rec := doRequest(t, stub, http.MethodGet, "/tasks/task-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.State)
	assert.Equal(t, 4, resp.Chunks)
}

func TestHandleTaskStatus_NotFound(t *testing.T) {
	stub := &stubPipeline{taskErr: coordinator.ErrTaskNotFound}
	rec := doRequest(t, stub, http.MethodGet, "/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSearch(t *testing.T) {
	stub := &stubPipeline{results: []vectorstore.SearchResult{
		{Content: "hit", Source: "/docs/a.txt", Similarity: 0.91},
	}}
	rec := doRequest(t, stub, http.MethodPost, "/search",
		searchRequest{Query: "what is a pipeline", Filters: map[string]string{"author": "alice"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "hit", resp.Results[0].Content)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, map[string]string{"author": "alice"}, stub.searchedWith)
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodPost, "/search", searchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch_DegradesOnError(t *testing.T) {
	stub := &stubPipeline{searchErr: fmt.Errorf("qdrant down")}
	rec := doRequest(t, stub, http.MethodPost, "/search", searchRequest{Query: "anything"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHandleDelete(t *testing.T) {
	stub := &stubPipeline{}
	rec := doRequest(t, stub, http.MethodDelete, "/sources/docs/a.txt", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "docs/a.txt", stub.deleted)
}

func TestHandleStats(t *testing.T) {
	rec := doRequest(t, &stubPipeline{}, http.MethodGet, "/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(7), resp["total_embeddings"])
	assert.Equal(t, float64(2), resp["unique_sources"])
}
