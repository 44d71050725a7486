package api

import (
	"net/http"
)

// handleGetLeaderboard handles GET /api/leaderboard?limit=&offset=
// Out-of-range values are clamped by the service, non-numeric ones rejected.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	page, err := s.leaderboardService.GetPage(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}
