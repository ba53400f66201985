package notify

import (
	"sync"

	"github.com/medcapture/capture-gateway/internal/models"
)

// Event is one asynchronous notification for the UI layer. The core never
// depends on any UI framework type; subscribers drain a channel.
type Event struct {
	Kind            EventKind              `json:"kind"`
	CaptureID       int64                  `json:"capture_id,omitempty"`
	ExportState     models.ExportState     `json:"export_state,omitempty"`
	Error           string                 `json:"error,omitempty"`
	WorklistEntries []models.WorklistEntry `json:"worklist_entries,omitempty"`
	WorklistLive    bool                   `json:"worklist_live,omitempty"`
}

type EventKind string

const (
	EventExportProgress  EventKind = "export_progress"
	EventWorklistUpdated EventKind = "worklist_updated"
)

// Notifier fans events out to subscribers. Slow subscribers drop events
// rather than block the export pipeline.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// New creates an empty notifier
func New() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered event channel. The returned cancel
// function removes the subscription and closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Event, 64)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ExportProgress publishes an export status change for a capture
func (n *Notifier) ExportProgress(captureID int64, state models.ExportState, errMsg string) {
	n.Publish(Event{
		Kind:        EventExportProgress,
		CaptureID:   captureID,
		ExportState: state,
		Error:       errMsg,
	})
}

// WorklistUpdated publishes a refreshed worklist snapshot
func (n *Notifier) WorklistUpdated(entries []models.WorklistEntry, isLive bool) {
	n.Publish(Event{
		Kind:            EventWorklistUpdated,
		WorklistEntries: entries,
		WorklistLive:    isLive,
	})
}
