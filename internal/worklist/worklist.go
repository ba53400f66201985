package worklist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/medcapture/capture-gateway/internal/cache"
	"github.com/medcapture/capture-gateway/internal/metrics"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/internal/notify"
	"github.com/medcapture/capture-gateway/pkg/dimse"
	"github.com/rs/zerolog"
)

// retentionTTL keeps snapshots around long past freshness so a stale
// worklist is still available when the MWL server is down.
const retentionTTL = 7 * 24 * time.Hour

// Fetcher queries the hospital MWL server
type Fetcher interface {
	FetchWorklist(ctx context.Context, endpoint models.PACSEndpoint, query dimse.WorklistQuery) ([]models.WorklistEntry, error)
}

// Config is the worklist cache policy
type Config struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	StationAE       string
	Modality        string
}

// snapshot is the cached envelope for one date range
type snapshot struct {
	FetchedAt time.Time              `json:"fetched_at"`
	Entries   []models.WorklistEntry `json:"entries"`
}

// Result is the answer to a worklist query. IsLive is false when the
// entries come from a stale snapshot or no data exists at all.
type Result struct {
	Entries   []models.WorklistEntry `json:"entries"`
	IsLive    bool                   `json:"is_live"`
	FetchedAt time.Time              `json:"fetched_at,omitempty"`
}

// WorklistCache serves scheduled-procedure queries from cache, refreshing
// from the MWL server when the snapshot is older than the TTL. Queries
// never fail: a dead MWL server degrades to stale data, then to an empty
// list.
type WorklistCache struct {
	cfg      Config
	fetcher  Fetcher
	endpoint models.PACSEndpoint
	store    cache.Cache
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a worklist cache
func New(cfg Config, fetcher Fetcher, endpoint models.PACSEndpoint, store cache.Cache, notifier *notify.Notifier, m *metrics.Metrics, log zerolog.Logger) *WorklistCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &WorklistCache{
		cfg:      cfg,
		fetcher:  fetcher,
		endpoint: endpoint,
		store:    store,
		notifier: notifier,
		metrics:  m,
		log:      log.With().Str("component", "worklist").Logger(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// keyLock serializes fetches per date range so concurrent queries for the
// same range trigger at most one MWL round trip.
func (w *WorklistCache) keyLock(key string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[key]
	if !ok {
		l = &sync.Mutex{}
		w.locks[key] = l
	}
	return l
}

// Query returns the scheduled procedures for a date range. A fresh
// snapshot answers directly; otherwise the MWL server is queried and, on
// failure, the last known snapshot is served as stale.
func (w *WorklistCache) Query(ctx context.Context, dateFrom, dateTo string) Result {
	key := cache.WorklistKey(dateFrom, dateTo)
	l := w.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if snap, ok := w.load(ctx, key); ok && time.Since(snap.FetchedAt) < w.cfg.TTL {
		w.countQuery("cache")
		return Result{Entries: snap.Entries, IsLive: true, FetchedAt: snap.FetchedAt}
	}

	snap, err := w.fetch(ctx, key, dateFrom, dateTo)
	if err == nil {
		w.countQuery("live")
		return Result{Entries: snap.Entries, IsLive: true, FetchedAt: snap.FetchedAt}
	}

	w.log.Warn().Err(err).
		Str("date_from", dateFrom).
		Str("date_to", dateTo).
		Msg("Worklist fetch failed, falling back to cache")

	if snap, ok := w.load(ctx, key); ok {
		w.countQuery("stale")
		return Result{Entries: snap.Entries, IsLive: false, FetchedAt: snap.FetchedAt}
	}

	w.countQuery("miss")
	return Result{Entries: []models.WorklistEntry{}, IsLive: false}
}

// Refresh forces a fetch for the date range, bypassing the TTL check.
// Unlike Query it reports the fetch error; the UI refresh button shows it.
func (w *WorklistCache) Refresh(ctx context.Context, dateFrom, dateTo string) (Result, error) {
	key := cache.WorklistKey(dateFrom, dateTo)
	l := w.keyLock(key)
	l.Lock()
	defer l.Unlock()

	snap, err := w.fetch(ctx, key, dateFrom, dateTo)
	if err != nil {
		return Result{}, err
	}
	return Result{Entries: snap.Entries, IsLive: true, FetchedAt: snap.FetchedAt}, nil
}

// RunPeriodicRefresh refreshes today's worklist on an interval until the
// context ends. Failures are logged and retried next tick.
func (w *WorklistCache) RunPeriodicRefresh(ctx context.Context) {
	if w.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := time.Now().Format("20060102")
			if _, err := w.Refresh(ctx, today, today); err != nil {
				w.log.Warn().Err(err).Msg("Periodic worklist refresh failed")
			}
		}
	}
}

func (w *WorklistCache) fetch(ctx context.Context, key, dateFrom, dateTo string) (snapshot, error) {
	entries, err := w.fetcher.FetchWorklist(ctx, w.endpoint, dimse.WorklistQuery{
		DateFrom:  dateFrom,
		DateTo:    dateTo,
		StationAE: w.cfg.StationAE,
		Modality:  w.cfg.Modality,
	})
	if err != nil {
		return snapshot{}, err
	}

	snap := snapshot{FetchedAt: time.Now(), Entries: entries}
	if data, err := json.Marshal(snap); err == nil {
		if err := w.store.Set(ctx, key, data, retentionTTL); err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("Failed to cache worklist snapshot")
		}
	}

	w.log.Info().
		Int("entries", len(entries)).
		Str("date_from", dateFrom).
		Str("date_to", dateTo).
		Msg("Worklist refreshed")

	if w.notifier != nil {
		w.notifier.WorklistUpdated(entries, true)
	}
	return snap, nil
}

func (w *WorklistCache) load(ctx context.Context, key string) (snapshot, bool) {
	data, err := w.store.Get(ctx, key)
	if err != nil {
		return snapshot{}, false
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Corrupt worklist snapshot evicted")
		w.store.Delete(ctx, key)
		return snapshot{}, false
	}
	return snap, true
}

func (w *WorklistCache) countQuery(source string) {
	if w.metrics != nil {
		w.metrics.WorklistHits.WithLabelValues(source).Inc()
	}
}
