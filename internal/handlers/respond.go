package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medcapture/capture-gateway/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeDomainError maps the error taxonomy onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *models.ValidationError
	var encoding *models.EncodingError

	switch {
	case errors.As(err, &validation), errors.Is(err, models.ErrInvalidContext):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &encoding):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, models.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrSessionBusy):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
