package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"letterdesk/internal/casing"
	"letterdesk/internal/persistence"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 2 << 20

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := s.db.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Checks: checks,
		})
		return
	}

	checks["database"] = "ok"

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Checks: checks,
	})
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes {"error":{"status":N,"message":"..."}}
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}

// respondStoreError maps repository errors onto HTTP statuses.
func (s *Server) respondStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		s.respondError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, persistence.ErrDuplicate):
		s.respondError(w, http.StatusConflict, what+" already exists")
	default:
		s.log.Error("Store operation failed", "entity", what, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process "+what)
	}
}

// decodePayload reads a JSON object, folds camelCase keys to snake_case and
// decodes the result into dst.
func decodePayload(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	folded, err := json.Marshal(casing.ToSnakeCase(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(folded, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

func listOptions(r *http.Request) persistence.ListOptions {
	return persistence.ListOptions{
		Limit:  min(queryInt(r, "limit", 50), 500),
		Offset: queryInt(r, "offset", 0),
		SortBy: r.URL.Query().Get("sort"),
		Order:  r.URL.Query().Get("order"),
		Status: r.URL.Query().Get("status"),
	}
}
