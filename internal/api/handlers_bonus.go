package api

import (
	"fmt"
	"net/http"

	apperrors "github.com/activity-scorer/internal/errors"
)

// BulkBonusRequest is the body of POST /api/bonus/bulk
type BulkBonusRequest struct {
	Addresses []string `json:"addresses"`
}

// handleBulkBonus handles POST /api/bonus/bulk
func (s *Server) handleBulkBonus(w http.ResponseWriter, r *http.Request) {
	if s.bonusService == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("bonus resolver"))
		return
	}

	var req BulkBonusRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(req.Addresses) == 0 {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("addresses", "must not be empty"))
		return
	}
	if len(req.Addresses) > s.config.MaxBulkAddresses {
		respondServiceError(w, r, apperrors.NewInvalidParameterError("addresses",
			fmt.Sprintf("at most %d addresses per request", s.config.MaxBulkAddresses)))
		return
	}

	results, err := s.bonusService.ResolveBulk(r.Context(), req.Addresses)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}
