package session

import (
	"errors"
	"testing"

	"github.com/medcapture/capture-gateway/internal/models"
)

func addedCapture(t *testing.T, s *CaptureStore, id int64) {
	t.Helper()
	if err := s.Add(models.Capture{ID: id, Kind: models.MediaPhoto}); err != nil {
		t.Fatalf("Add(%d) failed: %v", id, err)
	}
}

func TestStoreAddDuplicate(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)
	if err := s.Add(models.Capture{ID: 1}); err == nil {
		t.Fatal("expected duplicate id rejection")
	}
}

func TestStoreListOrdered(t *testing.T) {
	s := NewCaptureStore()
	for _, id := range []int64{3, 1, 2} {
		addedCapture(t, s, id)
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 captures, got %d", len(list))
	}
	for i, c := range list {
		if c.ID != int64(i+1) {
			t.Errorf("position %d holds id %d", i, c.ID)
		}
	}
}

func TestStoreRemoveOnlyPending(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)
	addedCapture(t, s, 2)

	if err := s.MarkExporting(2); err != nil {
		t.Fatalf("MarkExporting failed: %v", err)
	}
	if err := s.Remove(2); err == nil {
		t.Error("removing an exporting capture should fail")
	}
	if err := s.Remove(1); err != nil {
		t.Errorf("removing a pending capture failed: %v", err)
	}
}

func TestStoreExportLifecycle(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)

	if err := s.MarkExporting(1); err != nil {
		t.Fatalf("MarkExporting failed: %v", err)
	}
	if err := s.MarkExporting(1); err == nil {
		t.Error("double MarkExporting should fail")
	}
	if err := s.MarkExported(1); err != nil {
		t.Fatalf("MarkExported failed: %v", err)
	}

	c, _ := s.Get(1)
	if c.State != models.ExportExported {
		t.Errorf("state %s", c.State)
	}
	if len(c.Payload.Frames) != 0 {
		t.Error("payload not released after export")
	}
}

func TestStoreTerminalIdempotency(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)
	s.MarkExporting(1)
	s.MarkExported(1)

	// Duplicate and conflicting terminal deliveries are no-ops
	if err := s.MarkExported(1); err != nil {
		t.Errorf("repeat MarkExported errored: %v", err)
	}
	if err := s.MarkFailed(1, errors.New("late failure")); err != nil {
		t.Errorf("late MarkFailed errored: %v", err)
	}
	c, _ := s.Get(1)
	if c.State != models.ExportExported {
		t.Errorf("terminal state overwritten to %s", c.State)
	}

	// Unknown capture ids are tolerated on terminal paths
	if err := s.MarkExported(99); err != nil {
		t.Errorf("MarkExported on missing capture errored: %v", err)
	}
	if err := s.MarkFailed(99, errors.New("x")); err != nil {
		t.Errorf("MarkFailed on missing capture errored: %v", err)
	}
}

func TestStoreRetryFailed(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)
	s.MarkExporting(1)
	s.MarkFailed(1, errors.New("timeout"))

	c, _ := s.Get(1)
	if c.State != models.ExportFailed || c.LastError == "" {
		t.Fatalf("unexpected failed capture %+v", c)
	}

	if err := s.RetryFailed(1); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	c, _ = s.Get(1)
	if c.State != models.ExportPending {
		t.Errorf("state %s after retry", c.State)
	}

	if err := s.RetryFailed(1); err == nil {
		t.Error("retrying a pending capture should fail")
	}
}

func TestStorePendingCount(t *testing.T) {
	s := NewCaptureStore()
	addedCapture(t, s, 1)
	addedCapture(t, s, 2)
	addedCapture(t, s, 3)

	s.MarkExporting(1)
	s.MarkExported(1)
	s.MarkExporting(2)
	s.MarkFailed(2, errors.New("down"))

	// Exported captures are done; exporting/failed/pending still count
	if got := s.PendingCount(); got != 2 {
		t.Errorf("pending count %d, want 2", got)
	}
}
