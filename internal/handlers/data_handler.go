package handlers

import (
	"net"
	"net/http"
	"time"

	"github.com/emadnahed/ratelimiter/internal/middleware"
)

// DataResponse is the body served to admitted requests on /api/data.
type DataResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    DataPayload `json:"data"`
}

// DataPayload echoes when and for whom the data was produced.
type DataPayload struct {
	Timestamp float64 `json:"timestamp"`
	UserID    string  `json:"user_id"`
}

// DataHandler serves the rate-limited sample resource.
type DataHandler struct {
	now func() time.Time
}

// NewDataHandler creates a new DataHandler.
func NewDataHandler() *DataHandler {
	return &DataHandler{now: time.Now}
}

// GetData handles GET /api/data.
func (h *DataHandler) GetData(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetClientIP(r.Context())
	if userID == "" {
		userID = remoteHost(r.RemoteAddr)
	}

	now := h.now()
	writeJSON(w, http.StatusOK, DataResponse{
		Status:  "success",
		Message: "Data retrieved successfully.",
		Data: DataPayload{
			Timestamp: float64(now.UnixNano()) / float64(time.Second),
			UserID:    userID,
		},
	})
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
