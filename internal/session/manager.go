package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medcapture/capture-gateway/internal/encoder"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/internal/notify"
	"github.com/rs/zerolog"
)

// State is the session lifecycle state
type State string

const (
	StateIdle   State = "idle"   // no patient selected
	StateActive State = "active" // patient selected, captures accepted
	StateEnding State = "ending" // teardown confirmation pending
)

// Exporter is the slice of the export queue the session manager drives
type Exporter interface {
	Enqueue(job models.UploadJob) error
	CancelSession(sessionID uuid.UUID)
}

// EndSessionResult reports what EndSession did. A non-zero PendingExports
// with Ended=false means the caller must confirm with force=true; data
// loss is an explicit choice.
type EndSessionResult struct {
	Ended          bool `json:"ended"`
	PendingExports int  `json:"pending_exports"`
}

// Info is a snapshot of the current session for the UI layer
type Info struct {
	SessionID uuid.UUID             `json:"session_id"`
	State     State                 `json:"state"`
	Patient   models.PatientContext `json:"patient"`
	Captures  []models.Capture      `json:"captures"`
}

// Manager coordinates patient selection, the active capture session, and
// session teardown. It owns the capture store; all mutating calls are
// serialized through it.
type Manager struct {
	enc      *encoder.Encoder
	exporter Exporter
	endpoint models.PACSEndpoint
	notifier *notify.Notifier
	log      zerolog.Logger

	mu            sync.Mutex
	state         State
	sessionID     uuid.UUID
	patient       models.PatientContext
	study         encoder.StudyContext
	store         *CaptureStore
	nextCaptureID int64
}

// NewManager creates an idle session manager
func NewManager(enc *encoder.Encoder, exporter Exporter, endpoint models.PACSEndpoint, notifier *notify.Notifier, log zerolog.Logger) *Manager {
	return &Manager{
		enc:      enc,
		exporter: exporter,
		endpoint: endpoint,
		notifier: notifier,
		log:      log.With().Str("component", "session").Logger(),
		state:    StateIdle,
		store:    NewCaptureStore(),
	}
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current session info
func (m *Manager) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		SessionID: m.sessionID,
		State:     m.state,
		Patient:   m.patient,
		Captures:  m.store.List(),
	}
}

// SelectPatient starts a session for the given patient context. Fresh
// study/series UIDs are minted here and shared by every capture exported
// from this session.
func (m *Manager) SelectPatient(ctx models.PatientContext) (uuid.UUID, error) {
	if err := ctx.Validate(); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
	case StateEnding:
		return uuid.Nil, fmt.Errorf("teardown in progress: %w", models.ErrSessionBusy)
	default:
		return uuid.Nil, fmt.Errorf("session for %q still active: %w", m.patient.PatientID, models.ErrSessionBusy)
	}

	m.sessionID = uuid.New()
	m.patient = ctx
	m.study = encoder.NewStudyContext(time.Now())
	m.store = NewCaptureStore()
	m.nextCaptureID = 0
	m.state = StateActive

	m.log.Info().
		Str("session_id", m.sessionID.String()).
		Str("patient_id", ctx.PatientID).
		Str("accession", ctx.AccessionNumber).
		Msg("Session started")

	return m.sessionID, nil
}

// AddCapture registers a capture produced by the capture pipeline and
// assigns its session-scoped id.
func (m *Manager) AddCapture(kind models.MediaKind, payload models.Payload, duration time.Duration) (models.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return models.Capture{}, models.ErrNoActiveSession
	}

	m.nextCaptureID++
	c := models.Capture{
		ID:        m.nextCaptureID,
		Kind:      kind,
		Payload:   payload,
		Duration:  duration,
		CreatedAt: time.Now(),
		State:     models.ExportPending,
	}
	if err := m.store.Add(c); err != nil {
		return models.Capture{}, err
	}

	m.log.Debug().
		Int64("capture_id", c.ID).
		Str("kind", string(kind)).
		Msg("Capture added")

	return c, nil
}

// RemoveCapture deletes a still-pending capture at the operator's request
func (m *Manager) RemoveCapture(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return models.ErrNoActiveSession
	}
	return m.store.Remove(id)
}

// RetryExport moves a failed capture back to pending and resubmits it
func (m *Manager) RetryExport(id int64) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return models.ErrNoActiveSession
	}
	if err := m.store.RetryFailed(id); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	return m.RequestExport([]int64{id})
}

// RequestExport encodes the given captures and hands them to the export
// queue. Validation and encoding errors are rejected synchronously and
// never enter the queue; the capture stays pending.
func (m *Manager) RequestExport(captureIDs []int64) error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return models.ErrNoActiveSession
	}
	sessionID := m.sessionID
	patient := m.patient
	study := m.study
	store := m.store
	m.mu.Unlock()

	for _, id := range captureIDs {
		capture, ok := store.Get(id)
		if !ok {
			return &models.ValidationError{Field: "capture_id", Reason: fmt.Sprintf("capture %d not found", id)}
		}
		if capture.State != models.ExportPending && capture.State != models.ExportFailed {
			return &models.ValidationError{Field: "capture_id", Reason: fmt.Sprintf("capture %d is %s", id, capture.State)}
		}

		// Encoding happens outside any lock; it is a pure function of
		// the capture and session metadata.
		obj, err := m.enc.Encode(capture, patient, study)
		if err != nil {
			m.log.Warn().Err(err).Int64("capture_id", id).Msg("Encoding failed")
			return err
		}

		if err := store.MarkExporting(id); err != nil {
			return err
		}

		job := models.UploadJob{
			ID:              uuid.New(),
			SessionID:       sessionID,
			CaptureID:       id,
			Object:          obj,
			PatientID:       patient.PatientID,
			AccessionNumber: patient.AccessionNumber,
			Endpoint:        m.endpoint,
			Priority:        models.PriorityNormal,
			Status:          models.JobPending,
			AddedAt:         time.Now(),
		}
		if err := m.exporter.Enqueue(job); err != nil {
			// Queue refused (duplicate in flight, shutdown); roll the
			// capture back so the operator can retry.
			store.MarkFailed(id, err)
			return err
		}

		m.notifier.ExportProgress(id, models.ExportExporting, "")
	}
	return nil
}

// HandleOutcome is the export queue's terminal-outcome callback. A nil
// err means the object was accepted by the PACS.
func (m *Manager) HandleOutcome(job models.UploadJob, err error) {
	m.mu.Lock()
	store := m.store
	current := m.sessionID
	m.mu.Unlock()

	if job.SessionID != current {
		// Outcome for an already-ended session; history has it.
		return
	}

	if err == nil {
		store.MarkExported(job.CaptureID)
		m.notifier.ExportProgress(job.CaptureID, models.ExportExported, "")
		return
	}
	store.MarkFailed(job.CaptureID, err)
	m.notifier.ExportProgress(job.CaptureID, models.ExportFailed, err.Error())
}

// EndSession tears the session down. Without force it refuses while any
// capture is unexported and reports how many are pending; with force it
// cancels in-flight exports and discards remaining captures.
func (m *Manager) EndSession(force bool) (EndSessionResult, error) {
	m.mu.Lock()

	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return EndSessionResult{Ended: true}, nil
	case StateEnding:
		m.mu.Unlock()
		return EndSessionResult{}, fmt.Errorf("teardown in progress: %w", models.ErrSessionBusy)
	}

	pending := m.store.PendingCount()
	if pending > 0 && !force {
		m.mu.Unlock()
		return EndSessionResult{Ended: false, PendingExports: pending}, nil
	}

	m.state = StateEnding
	sessionID := m.sessionID
	m.mu.Unlock()

	if force && pending > 0 {
		m.exporter.CancelSession(sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Clear()
	m.patient = models.PatientContext{}
	m.study = encoder.StudyContext{}
	m.sessionID = uuid.Nil
	m.state = StateIdle

	m.log.Info().
		Str("session_id", sessionID.String()).
		Bool("forced", force).
		Int("discarded", pending).
		Msg("Session ended")

	return EndSessionResult{Ended: true, PendingExports: pending}, nil
}
