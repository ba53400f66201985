package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/medcapture/capture-gateway/internal/metrics"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/internal/queue"
	"github.com/medcapture/capture-gateway/internal/repository"
	"github.com/medcapture/capture-gateway/internal/transport"
)

// PACSHandler exposes connectivity testing, queue introspection, and
// export history.
type PACSHandler struct {
	transport *transport.PacsTransport
	endpoint  models.PACSEndpoint
	queue     *queue.ExportQueue
	exports   *repository.ExportRepository // nil when no database
	metrics   *metrics.Metrics             // nil when metrics disabled
}

// NewPACSHandler creates a PACS handler
func NewPACSHandler(t *transport.PacsTransport, endpoint models.PACSEndpoint, q *queue.ExportQueue, exports *repository.ExportRepository, m *metrics.Metrics) *PACSHandler {
	return &PACSHandler{transport: t, endpoint: endpoint, queue: q, exports: exports, metrics: m}
}

// Echo runs a C-ECHO against the configured PACS. Failures answer 200
// with ok=false; the echo completing is the success of this endpoint.
func (h *PACSHandler) Echo(w http.ResponseWriter, r *http.Request) {
	timeout := 30 * time.Second
	if h.endpoint.TimeoutSec > 0 {
		timeout = time.Duration(h.endpoint.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result, _ := h.transport.Echo(ctx, h.endpoint)
	if h.metrics != nil && result.OK {
		h.metrics.EchoLatency.Observe(result.Latency.Seconds())
	}
	writeJSON(w, http.StatusOK, result)
}

// QueueStats returns a snapshot of export queue activity
func (h *PACSHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}

// RecentExports lists the most recent export history records
func (h *PACSHandler) RecentExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("export history requires a database"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	records, err := h.exports.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// SessionExports lists the export history of one session
func (h *PACSHandler) SessionExports(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("export history requires a database"))
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid session id: %w", err))
		return
	}

	records, err := h.exports.GetBySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
