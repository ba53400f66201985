package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medcapture/capture-gateway/internal/metrics"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/rs/zerolog"
)

// ErrCancelled is the terminal outcome of a job cancelled by the operator
// or by a forced session end.
var ErrCancelled = errors.New("export cancelled")

// ErrQueueClosed is returned by Enqueue after shutdown has begun
var ErrQueueClosed = errors.New("export queue closed")

// ErrDuplicateCapture is returned when a capture already has a live job.
// One capture never has two jobs queued or uploading at once; capture ids
// restart per session, so the exclusivity is session-scoped.
var ErrDuplicateCapture = errors.New("capture already has a queued export")

// Uploader is the transport slice the queue needs
type Uploader interface {
	Store(ctx context.Context, endpoint models.PACSEndpoint, obj models.DicomObject) (models.StoreOutcome, error)
}

// History persists terminal job outcomes. Implementations may be nil-safe
// stand-ins when no database is configured.
type History interface {
	Record(ctx context.Context, record models.ExportRecord) error
}

// OutcomeFunc receives every terminal job outcome. A nil error means the
// object was accepted by the PACS.
type OutcomeFunc func(job models.UploadJob, err error)

// Config is the retry and concurrency policy
type Config struct {
	Workers     int
	MaxRetries  int // retries after the first attempt
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Stats is a point-in-time queue snapshot
type Stats struct {
	Queued    int   `json:"queued"`
	InFlight  int   `json:"in_flight"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Retries   int64 `json:"retries"`
}

type queuedJob struct {
	models.UploadJob
	readyAt   time.Time
	cancelled bool
	uploadCtx context.Context
}

// jobKey identifies one capture's live job within its session
type jobKey struct {
	session uuid.UUID
	capture int64
}

func (qj *queuedJob) key() jobKey {
	return jobKey{session: qj.SessionID, capture: qj.CaptureID}
}

type inFlightEntry struct {
	job    *queuedJob
	cancel context.CancelFunc
}

// ExportQueue delivers encoded DICOM objects to the PACS through a fixed
// worker pool. Jobs are dispatched by priority, transient failures are
// retried with exponential backoff, and protocol rejections fail
// immediately without touching the retry budget.
type ExportQueue struct {
	cfg       Config
	uploader  Uploader
	history   History
	onOutcome OutcomeFunc
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*queuedJob
	inFlight map[jobKey]*inFlightEntry
	closed   bool
	stats    Stats

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped queue; call Start before enqueueing
func New(cfg Config, uploader Uploader, history History, onOutcome OutcomeFunc, m *metrics.Metrics, log zerolog.Logger) *ExportQueue {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}

	q := &ExportQueue{
		cfg:       cfg,
		uploader:  uploader,
		history:   history,
		onOutcome: onOutcome,
		metrics:   m,
		log:       log.With().Str("component", "export_queue").Logger(),
		inFlight:  make(map[jobKey]*inFlightEntry),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool
func (q *ExportQueue) Start(ctx context.Context) {
	q.rootCtx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info().Int("workers", q.cfg.Workers).Msg("Export queue started")
}

// Close stops intake, cancels in-flight uploads, and waits for the
// workers to drain.
func (q *ExportQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue adds a job. A capture with a job already queued or uploading is
// rejected; the caller retries after the current job reaches a terminal
// state.
func (q *ExportQueue) Enqueue(job models.UploadJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	key := jobKey{session: job.SessionID, capture: job.CaptureID}
	if _, busy := q.inFlight[key]; busy {
		return fmt.Errorf("capture %d: %w", job.CaptureID, ErrDuplicateCapture)
	}
	for _, qj := range q.pending {
		if qj.key() == key && !qj.cancelled {
			return fmt.Errorf("capture %d: %w", job.CaptureID, ErrDuplicateCapture)
		}
	}

	job.Status = models.JobPending
	q.pending = append(q.pending, &queuedJob{UploadJob: job, readyAt: time.Now()})
	q.updateDepthGauge()
	q.cond.Broadcast()

	q.log.Debug().
		Str("job_id", job.ID.String()).
		Int64("capture_id", job.CaptureID).
		Int("priority", int(job.Priority)).
		Msg("Job enqueued")
	return nil
}

// Cancel removes the queued or in-flight job for a capture. Queued jobs
// are dropped; an in-flight upload has its context cancelled and reports
// ErrCancelled when the worker unwinds.
func (q *ExportQueue) Cancel(captureID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, qj := range q.pending {
		if qj.CaptureID == captureID && !qj.cancelled {
			qj.cancelled = true
			q.cond.Broadcast()
			return true
		}
	}
	for key, entry := range q.inFlight {
		if key.capture == captureID {
			entry.cancel()
			return true
		}
	}
	return false
}

// CancelSession cancels every job belonging to a session. Used when a
// session is force-ended with exports still outstanding.
func (q *ExportQueue) CancelSession(sessionID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, qj := range q.pending {
		if qj.SessionID == sessionID {
			qj.cancelled = true
		}
	}
	for _, entry := range q.inFlight {
		if entry.job.SessionID == sessionID {
			entry.cancel()
		}
	}
	q.cond.Broadcast()
}

// Stats returns a snapshot of queue activity
func (q *ExportQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Queued = len(q.pending)
	s.InFlight = len(q.inFlight)
	return s
}

func (q *ExportQueue) worker(id int) {
	defer q.wg.Done()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.process(job)
	}
}

// next blocks until a job is dispatchable or the queue shuts down.
// Dispatch order: highest priority first, then oldest; jobs inside their
// backoff window are skipped until ready.
func (q *ExportQueue) next() (*queuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		// Deliver cancellations before anything else
		kept := q.pending[:0]
		var dropped []*queuedJob
		for _, qj := range q.pending {
			if qj.cancelled {
				dropped = append(dropped, qj)
			} else {
				kept = append(kept, qj)
			}
		}
		q.pending = kept
		for _, qj := range dropped {
			q.stats.Cancelled++
			q.finishLocked(qj, ErrCancelled)
		}
		if len(dropped) > 0 {
			q.updateDepthGauge()
		}

		now := time.Now()
		bestIdx := -1
		var nextReady time.Time
		for i, qj := range q.pending {
			if qj.readyAt.After(now) {
				if nextReady.IsZero() || qj.readyAt.Before(nextReady) {
					nextReady = qj.readyAt
				}
				continue
			}
			if bestIdx < 0 {
				bestIdx = i
				continue
			}
			best := q.pending[bestIdx]
			if qj.Priority > best.Priority ||
				(qj.Priority == best.Priority && qj.AddedAt.Before(best.AddedAt)) {
				bestIdx = i
			}
		}

		if bestIdx >= 0 {
			qj := q.pending[bestIdx]
			q.pending = append(q.pending[:bestIdx], q.pending[bestIdx+1:]...)
			qj.Status = models.JobInFlight

			uploadCtx, cancelUpload := context.WithCancel(q.rootCtx)
			qj.uploadCtx = uploadCtx
			q.inFlight[qj.key()] = &inFlightEntry{job: qj, cancel: cancelUpload}
			q.updateDepthGauge()
			if q.metrics != nil {
				q.metrics.JobsInFlight.Inc()
			}
			return qj, true
		}

		if q.closed {
			return nil, false
		}
		if !nextReady.IsZero() {
			// Wake when the earliest backoff expires
			timer := time.AfterFunc(time.Until(nextReady), q.cond.Broadcast)
			q.cond.Wait()
			timer.Stop()
			continue
		}
		q.cond.Wait()
	}
}

// process runs one upload attempt and decides between terminal outcome
// and backoff requeue.
func (q *ExportQueue) process(qj *queuedJob) {
	qj.Attempts++

	start := time.Now()
	_, err := q.uploader.Store(qj.uploadCtx, qj.Endpoint, *qj.Object)
	if q.metrics != nil {
		q.metrics.ExportDuration.Observe(time.Since(start).Seconds())
		q.metrics.JobsInFlight.Dec()
	}

	wasCancelled := qj.uploadCtx.Err() != nil

	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.inFlight[qj.key()]; ok {
		entry.cancel()
		delete(q.inFlight, qj.key())
	}

	if err == nil {
		q.stats.Succeeded++
		q.finishLocked(qj, nil)
		q.cond.Broadcast()
		return
	}

	if wasCancelled {
		// Cancelled mid-upload by Cancel, CancelSession, or shutdown
		q.stats.Cancelled++
		q.finishLocked(qj, ErrCancelled)
		q.cond.Broadcast()
		return
	}

	if models.IsRetryable(err) && qj.Attempts <= q.cfg.MaxRetries && !q.closed {
		delay := q.backoff(qj.Attempts)
		qj.readyAt = time.Now().Add(delay)
		qj.Status = models.JobPending
		qj.LastError = err.Error()
		q.pending = append(q.pending, qj)
		q.stats.Retries++
		q.updateDepthGauge()
		if q.metrics != nil {
			q.metrics.RetriesTotal.Inc()
		}

		q.log.Warn().
			Err(err).
			Int64("capture_id", qj.CaptureID).
			Int("attempt", qj.Attempts).
			Dur("backoff", delay).
			Msg("Upload failed, retrying")

		time.AfterFunc(delay, q.cond.Broadcast)
		return
	}

	q.stats.Failed++
	q.finishLocked(qj, err)
	q.cond.Broadcast()
}

// backoff doubles the base delay per completed attempt, capped
func (q *ExportQueue) backoff(attempts int) time.Duration {
	delay := q.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	return delay
}

// finishLocked records the terminal outcome and relays it. Called with
// q.mu held; the callbacks run without the lock.
func (q *ExportQueue) finishLocked(qj *queuedJob, terminalErr error) {
	switch {
	case terminalErr == nil:
		qj.Status = models.JobSucceeded
		qj.LastError = ""
	case errors.Is(terminalErr, ErrCancelled):
		qj.Status = models.JobCancelled
		qj.LastError = terminalErr.Error()
	default:
		qj.Status = models.JobFailed
		qj.LastError = terminalErr.Error()
	}

	if q.metrics != nil {
		q.metrics.ExportsTotal.WithLabelValues(string(qj.Status)).Inc()
	}

	job := qj.UploadJob
	go func() {
		if q.history != nil {
			record := models.ExportRecord{
				SessionID:       job.SessionID,
				CaptureID:       job.CaptureID,
				PatientID:       job.PatientID,
				AccessionNumber: job.AccessionNumber,
				Status:          job.Status,
				Attempts:        job.Attempts,
				LastError:       job.LastError,
				CompletedAt:     time.Now(),
			}
			if job.Object != nil {
				record.SOPInstanceUID = job.Object.SOPInstanceUID
			}
			recordCtx, cancelRecord := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelRecord()
			if err := q.history.Record(recordCtx, record); err != nil {
				q.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to persist export record")
			}
		}
		if q.onOutcome != nil {
			q.onOutcome(job, terminalErr)
		}
	}()

	q.log.Info().
		Str("job_id", job.ID.String()).
		Int64("capture_id", job.CaptureID).
		Str("status", string(job.Status)).
		Int("attempts", job.Attempts).
		Msg("Job finished")
}

func (q *ExportQueue) updateDepthGauge() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
}
