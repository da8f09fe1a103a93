package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/ingest"
	"github.com/medreg-data/regsync/internal/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSystemHealth serves the ingest-health snapshot: run outcomes,
// per-source freshness, and backlog depth over a lookback window.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), intQuery(r, "hours", 24))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	snap.Sources = emptySlice(snap.Sources)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := ingest.NewRunLog(s.pool).List(r.Context(), intQuery(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": emptySlice(runs)})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	status := ingest.PendingStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = ingest.PendingOpen
	}

	records, err := ingest.NewPendingStore(s.pool).List(r.Context(), status, intQuery(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": emptySlice(records)})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := registry.NewPostgresStore(s.pool).ListOpenConflicts(r.Context(), intQuery(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": emptySlice(conflicts)})
}

// handleChanges serves the change-log feed downstream consumers poll with an
// id cursor.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		after = 0
	}

	changes, err := registry.NewPostgresStore(s.pool).ListChanges(r.Context(), after, intQuery(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	next := after
	for _, c := range changes {
		if c.ID > next {
			next = c.ID
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": emptySlice(changes), "next_cursor": next})
}

func (s *Server) handleResolvePending(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pending id"})
		return
	}

	var req struct {
		RegistrationNo string `json:"registration_no"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.RegistrationNo == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "registration_no is required"})
		return
	}

	result, err := s.resolver.ResolvePending(r.Context(), id, req.RegistrationNo)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func intQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// emptySlice keeps JSON output as [] instead of null for nil slices.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	zap.L().Error("server: request failed", zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
