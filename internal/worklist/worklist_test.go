package worklist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medcapture/capture-gateway/internal/cache"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/pkg/dimse"
	"github.com/rs/zerolog"
)

// scriptedFetcher serves canned responses or errors per call
type scriptedFetcher struct {
	mu      sync.Mutex
	entries []models.WorklistEntry
	err     error
	calls   int
	lastQ   dimse.WorklistQuery
}

func (f *scriptedFetcher) FetchWorklist(ctx context.Context, endpoint models.PACSEndpoint, query dimse.WorklistQuery) ([]models.WorklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQ = query
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testCache(t *testing.T, fetcher Fetcher, ttl time.Duration) *WorklistCache {
	t.Helper()
	mem := cache.NewMemoryCache(0)
	t.Cleanup(func() { mem.Close() })
	cfg := Config{TTL: ttl, StationAE: "CAPTURE_GW", Modality: "OT"}
	endpoint := models.PACSEndpoint{Host: "mwl.local", Port: 104}
	return New(cfg, fetcher, endpoint, mem, nil, nil, zerolog.Nop())
}

func entries(ids ...string) []models.WorklistEntry {
	out := make([]models.WorklistEntry, len(ids))
	for i, id := range ids {
		out[i] = models.WorklistEntry{PatientID: id, PatientName: "Doe^" + id}
	}
	return out
}

func TestQueryLiveFetch(t *testing.T) {
	f := &scriptedFetcher{entries: entries("P1", "P2")}
	w := testCache(t, f, time.Minute)

	result := w.Query(context.Background(), "20260831", "20260831")
	if !result.IsLive {
		t.Error("fresh fetch should be live")
	}
	if len(result.Entries) != 2 {
		t.Errorf("entries %d", len(result.Entries))
	}
	if f.lastQ.DateFrom != "20260831" || f.lastQ.StationAE != "CAPTURE_GW" {
		t.Errorf("query %+v", f.lastQ)
	}
}

func TestQueryServedFromFreshCache(t *testing.T) {
	f := &scriptedFetcher{entries: entries("P1")}
	w := testCache(t, f, time.Minute)

	w.Query(context.Background(), "20260831", "20260831")
	w.Query(context.Background(), "20260831", "20260831")

	if f.callCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.callCount())
	}
}

func TestQueryStaleFallback(t *testing.T) {
	f := &scriptedFetcher{entries: entries("P1")}
	// TTL of zero: every snapshot is immediately stale
	w := testCache(t, f, time.Nanosecond)

	first := w.Query(context.Background(), "20260831", "20260831")
	if !first.IsLive {
		t.Fatal("first query should be live")
	}

	f.setError(errors.New("mwl server down"))
	second := w.Query(context.Background(), "20260831", "20260831")
	if second.IsLive {
		t.Error("fallback data must be flagged stale")
	}
	if len(second.Entries) != 1 || second.Entries[0].PatientID != "P1" {
		t.Errorf("stale entries %+v", second.Entries)
	}
}

func TestQueryTotalMissIsEmptyNotError(t *testing.T) {
	f := &scriptedFetcher{err: errors.New("mwl server down")}
	w := testCache(t, f, time.Minute)

	result := w.Query(context.Background(), "20260831", "20260831")
	if result.IsLive {
		t.Error("miss must not be live")
	}
	if result.Entries == nil || len(result.Entries) != 0 {
		t.Errorf("expected empty entry list, got %v", result.Entries)
	}
}

func TestQueryKeyedByDateRange(t *testing.T) {
	f := &scriptedFetcher{entries: entries("P1")}
	w := testCache(t, f, time.Minute)

	w.Query(context.Background(), "20260830", "20260830")
	w.Query(context.Background(), "20260831", "20260831")

	if f.callCount() != 2 {
		t.Errorf("distinct ranges must fetch separately, got %d calls", f.callCount())
	}
}

func TestRefreshBypassesTTL(t *testing.T) {
	f := &scriptedFetcher{entries: entries("P1")}
	w := testCache(t, f, time.Hour)

	w.Query(context.Background(), "20260831", "20260831")
	if _, err := w.Refresh(context.Background(), "20260831", "20260831"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if f.callCount() != 2 {
		t.Errorf("refresh should always fetch, got %d calls", f.callCount())
	}
}

func TestRefreshReportsError(t *testing.T) {
	f := &scriptedFetcher{err: errors.New("mwl server down")}
	w := testCache(t, f, time.Minute)

	if _, err := w.Refresh(context.Background(), "20260831", "20260831"); err == nil {
		t.Fatal("Refresh should surface the fetch error")
	}
}
