package server

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds the subsystem probes so a hung dependency cannot
// stall the health endpoint.
const healthTimeout = 3 * time.Second

// HealthResponse is the JSON body of the /health endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	Subsystems map[string]string `json:"subsystems"`
	Timestamp  string            `json:"timestamp"`
}

// handleHealth probes every subsystem and returns 503 when any of them
// is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	subsystems := s.coord.Health(ctx)

	response := HealthResponse{
		Status:     "healthy",
		Subsystems: subsystems,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for _, status := range subsystems {
		if status != "ok" {
			response.Status = "unhealthy"
			break
		}
	}

	if response.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
