package handlers

import (
	"net/http"
	"time"

	"github.com/medcapture/capture-gateway/internal/worklist"
)

// WorklistHandler serves scheduled-procedure queries
type WorklistHandler struct {
	cache *worklist.WorklistCache
}

// NewWorklistHandler creates a worklist handler
func NewWorklistHandler(cache *worklist.WorklistCache) *WorklistHandler {
	return &WorklistHandler{cache: cache}
}

// Query returns the worklist for a date range, today by default. Always
// answers 200; stale or missing data is flagged through is_live.
func (h *WorklistHandler) Query(w http.ResponseWriter, r *http.Request) {
	from, to := dateRange(r)
	writeJSON(w, http.StatusOK, h.cache.Query(r.Context(), from, to))
}

// Refresh forces a fetch from the MWL server
func (h *WorklistHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	from, to := dateRange(r)
	result, err := h.cache.Refresh(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func dateRange(r *http.Request) (string, string) {
	today := time.Now().Format("20060102")
	from := r.URL.Query().Get("date_from")
	to := r.URL.Query().Get("date_to")
	if from == "" {
		from = today
	}
	if to == "" {
		to = from
	}
	return from, to
}
