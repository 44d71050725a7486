package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/activity-scorer/internal/errors"
)

// handleGetUserMetrics handles GET /api/users/{address}/metrics
// The first request for an unknown or stale address aggregates inline.
func (s *Server) handleGetUserMetrics(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	result, err := s.activityService.GetUserMetrics(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetScoreBreakdown handles GET /api/users/{address}/breakdown
func (s *Server) handleGetScoreBreakdown(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	result, err := s.activityService.GetScoreBreakdown(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetBonus handles GET /api/users/{address}/bonus
func (s *Server) handleGetBonus(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	result, err := s.activityService.GetBonus(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetHistory handles GET /api/users/{address}/history?limit=
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	points, err := s.activityService.GetHistory(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"points":  points,
	})
}

// parseIntParam reads an optional integer query parameter
func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError(name, "must be an integer")
	}
	return v, nil
}
