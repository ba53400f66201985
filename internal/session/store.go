package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/medcapture/capture-gateway/internal/models"
)

// CaptureStore holds the captures of one session, ordered by capture id.
// Mutations arrive from the session owner and from export queue outcome
// callbacks, so access is serialized internally.
type CaptureStore struct {
	mu       sync.Mutex
	captures map[int64]*models.Capture
}

// NewCaptureStore creates an empty store
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{captures: make(map[int64]*models.Capture)}
}

// Add inserts a capture. The id must be unique within the session.
func (s *CaptureStore) Add(c models.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.captures[c.ID]; exists {
		return fmt.Errorf("capture %d already exists", c.ID)
	}
	c.State = models.ExportPending
	s.captures[c.ID] = &c
	return nil
}

// Get returns a copy of one capture
func (s *CaptureStore) Get(id int64) (models.Capture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		return models.Capture{}, false
	}
	return *c, true
}

// List returns copies of all captures in id order
func (s *CaptureStore) List() []models.Capture {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Capture, 0, len(s.captures))
	for _, c := range s.captures {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes a capture and its payload. Only legal while pending;
// once a DICOM object has been built the export continues regardless.
func (s *CaptureStore) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		return fmt.Errorf("capture %d not found", id)
	}
	if c.State != models.ExportPending {
		return fmt.Errorf("capture %d is %s, only pending captures can be removed", id, c.State)
	}
	delete(s.captures, id)
	return nil
}

// MarkExporting transitions a capture to the exporting state. Legal from
// pending and, for manual retry, from failed.
func (s *CaptureStore) MarkExporting(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		return fmt.Errorf("capture %d not found", id)
	}
	switch c.State {
	case models.ExportPending, models.ExportFailed:
		c.State = models.ExportExporting
		c.LastError = ""
		return nil
	case models.ExportExporting:
		return fmt.Errorf("capture %d is already exporting", id)
	default:
		return fmt.Errorf("capture %d is %s", id, c.State)
	}
}

// MarkExported records a successful export. Idempotent: a duplicate
// delivery of the same terminal outcome is a no-op.
func (s *CaptureStore) MarkExported(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		// Capture was deleted after its object was built; the export
		// finished on the detached object. Nothing to record.
		return nil
	}
	if c.State == models.ExportExported {
		return nil
	}
	c.State = models.ExportExported
	c.LastError = ""
	// Payload is no longer needed once the object is on the PACS
	c.Payload = models.Payload{}
	return nil
}

// MarkFailed records a terminal export failure. Idempotent like
// MarkExported; the capture becomes eligible for manual retry.
func (s *CaptureStore) MarkFailed(id int64, failure error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		return nil
	}
	if c.State == models.ExportFailed || c.State == models.ExportExported {
		return nil
	}
	c.State = models.ExportFailed
	if failure != nil {
		c.LastError = failure.Error()
	}
	return nil
}

// RetryFailed moves a failed capture back to pending (operator action)
func (s *CaptureStore) RetryFailed(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.captures[id]
	if !ok {
		return fmt.Errorf("capture %d not found", id)
	}
	if c.State != models.ExportFailed {
		return fmt.Errorf("capture %d is %s, only failed captures can be retried", id, c.State)
	}
	c.State = models.ExportPending
	return nil
}

// PendingCount counts captures not yet in a terminal exported state
func (s *CaptureStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.captures {
		if c.State != models.ExportExported {
			n++
		}
	}
	return n
}

// Clear drops all captures and payloads
func (s *CaptureStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures = make(map[int64]*models.Capture)
}
