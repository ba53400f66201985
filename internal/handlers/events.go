package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/medcapture/capture-gateway/internal/notify"
)

// EventsHandler streams export progress and worklist updates to the UI
// as server-sent events.
type EventsHandler struct {
	notifier *notify.Notifier
}

// NewEventsHandler creates an events handler
func NewEventsHandler(notifier *notify.Notifier) *EventsHandler {
	return &EventsHandler{notifier: notifier}
}

// Stream subscribes the client to the event bus until it disconnects
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	events, cancel := h.notifier.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
