package notify

import (
	"testing"
	"time"

	"github.com/medcapture/capture-gateway/internal/models"
)

func TestSubscribeReceivesEvents(t *testing.T) {
	n := New()
	events, cancel := n.Subscribe()
	defer cancel()

	n.ExportProgress(3, models.ExportExported, "")

	select {
	case ev := <-events:
		if ev.Kind != EventExportProgress || ev.CaptureID != 3 {
			t.Errorf("event %+v", ev)
		}
		if ev.ExportState != models.ExportExported {
			t.Errorf("state %s", ev.ExportState)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	n := New()
	events, cancel := n.Subscribe()
	cancel()

	if _, open := <-events; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic
	n.WorklistUpdated(nil, true)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	n := New()
	_, cancel := n.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			n.ExportProgress(int64(i), models.ExportExporting, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	n := New()
	a, cancelA := n.Subscribe()
	b, cancelB := n.Subscribe()
	defer cancelA()
	defer cancelB()

	n.WorklistUpdated([]models.WorklistEntry{{PatientID: "P1"}}, false)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != EventWorklistUpdated || ev.WorklistLive {
				t.Errorf("event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
