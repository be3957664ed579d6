package server

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Schema    string         `json:"schema"`
	Tracks    int64          `json:"trackCount"`
	PublicURL string         `json:"publicUrl,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Schema:    "ok",
		PublicURL: s.tunnel.PublicURL(),
		Details:   make(map[string]any),
	}

	// Check database connectivity
	if err := s.store.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	// Check that every expected column is present
	if missing, err := s.store.MissingColumns(ctx); err != nil {
		health.Details["schema_error"] = err.Error()
	} else if len(missing) > 0 {
		health.Status = "unhealthy"
		health.Schema = "incomplete"
		health.Details["missing_columns"] = missing
	}

	if stats, err := s.store.GetStatistics(ctx); err != nil {
		health.Details["track_count_error"] = err.Error()
	} else {
		health.Tracks = stats.TotalDownloads
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}
