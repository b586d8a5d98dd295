package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/emadnahed/ratelimiter/internal/services"
	"github.com/emadnahed/ratelimiter/pkg/logger"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RejectionsResponse lists the most rejected callers.
type RejectionsResponse struct {
	Limit   int                         `json:"limit"`
	Callers []services.CallerRejections `json:"callers"`
}

// RejectionsHandler serves the rejection audit.
type RejectionsHandler struct {
	service services.RejectionService
	log     *logger.Logger
}

// NewRejectionsHandler creates a new RejectionsHandler. log may be nil.
func NewRejectionsHandler(svc services.RejectionService, log *logger.Logger) *RejectionsHandler {
	return &RejectionsHandler{service: svc, log: log}
}

// List handles GET /api/v1/rejections?limit=N.
func (h *RejectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := services.DefaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be an integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	callers, err := h.service.TopRejected(r.Context(), limit)
	if err != nil {
		if errors.Is(err, services.ErrInvalidLimit) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_LIMIT",
			})
			return
		}
		if h.log != nil {
			h.log.Error("failed to list rejections", "error", err, "limit", limit)
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load rejections",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	writeJSON(w, http.StatusOK, RejectionsResponse{Limit: limit, Callers: callers})
}
