package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/internal/queue"
	"github.com/medcapture/capture-gateway/internal/session"
)

// SessionHandler exposes the capture session lifecycle over HTTP
type SessionHandler struct {
	manager   *session.Manager
	queue     *queue.ExportQueue
	templates []models.PatientTemplate
}

// NewSessionHandler creates a session handler
func NewSessionHandler(manager *session.Manager, q *queue.ExportQueue, templates []models.PatientTemplate) *SessionHandler {
	return &SessionHandler{manager: manager, queue: q, templates: templates}
}

// Get returns the current session snapshot
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Snapshot())
}

// Start begins a session from an explicit patient context
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var ctx models.PatientContext
	if err := json.NewDecoder(r.Body).Decode(&ctx); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	sessionID, err := h.manager.SelectPatient(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID.String()})
}

// StartEmergency begins a session from a break-glass template
func (h *SessionHandler) StartEmergency(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "templateID")

	for _, t := range h.templates {
		if t.ID == templateID {
			sessionID, err := h.manager.SelectPatient(t.Resolve(time.Now()))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID.String()})
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown template %q", templateID))
}

// Templates lists the emergency patient templates
func (h *SessionHandler) Templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.templates)
}

type endRequest struct {
	Force bool `json:"force"`
}

// End tears down the session; pending exports require force
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	result, err := h.manager.EndSession(req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !result.Ended {
		// Unexported captures remain; the client re-sends with force
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type addCaptureRequest struct {
	Kind       models.MediaKind   `json:"kind"`
	Format     models.PixelFormat `json:"format"`
	Width      int                `json:"width"`
	Height     int                `json:"height"`
	Frames     []string           `json:"frames"` // base64
	DurationMS int64              `json:"duration_ms"`
}

// AddCapture ingests a capture from the acquisition pipeline
func (h *SessionHandler) AddCapture(w http.ResponseWriter, r *http.Request) {
	var req addCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	frames := make([][]byte, 0, len(req.Frames))
	for i, f := range req.Frames {
		data, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("frame %d is not valid base64: %w", i, err))
			return
		}
		frames = append(frames, data)
	}

	payload := models.Payload{
		Frames: frames,
		Format: req.Format,
		Width:  req.Width,
		Height: req.Height,
	}
	capture, err := h.manager.AddCapture(req.Kind, payload, time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, capture)
}

// RemoveCapture deletes a pending capture
func (h *SessionHandler) RemoveCapture(w http.ResponseWriter, r *http.Request) {
	id, err := captureID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.manager.RemoveCapture(id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportRequest struct {
	CaptureIDs []int64 `json:"capture_ids"`
}

// Export submits captures to the export pipeline
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.CaptureIDs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("capture_ids must not be empty"))
		return
	}

	if err := h.manager.RequestExport(req.CaptureIDs); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"submitted": len(req.CaptureIDs)})
}

// RetryExport resubmits a failed capture
func (h *SessionHandler) RetryExport(w http.ResponseWriter, r *http.Request) {
	id, err := captureID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.manager.RetryExport(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"capture_id": id})
}

// CancelExport cancels a queued or uploading export
func (h *SessionHandler) CancelExport(w http.ResponseWriter, r *http.Request) {
	id, err := captureID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.queue.Cancel(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no live export for capture %d", id))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func captureID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "captureID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid capture id %q", raw)
	}
	return id, nil
}
