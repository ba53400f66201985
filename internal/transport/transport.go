package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/medcapture/capture-gateway/pkg/dimse"
	"github.com/rs/zerolog"
)

// PacsTransport performs DIMSE operations against a PACS endpoint. Every
// call opens its own association and closes it before returning; no
// connection state survives between operations.
type PacsTransport struct {
	log zerolog.Logger
}

// New creates a PACS transport
func New(log zerolog.Logger) *PacsTransport {
	return &PacsTransport{log: log.With().Str("component", "transport").Logger()}
}

// EchoResult reports the outcome of a connectivity check
type EchoResult struct {
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

func (t *PacsTransport) associationConfig(endpoint models.PACSEndpoint) dimse.AssociationConfig {
	return dimse.AssociationConfig{
		Host:       endpoint.Host,
		Port:       endpoint.Port,
		CallingAET: endpoint.CallingAE,
		CalledAET:  endpoint.CalledAE,
		Timeout:    time.Duration(endpoint.TimeoutSec) * time.Second,
	}
}

// Echo verifies connectivity with a C-ECHO exchange
func (t *PacsTransport) Echo(ctx context.Context, endpoint models.PACSEndpoint) (EchoResult, error) {
	start := time.Now()

	assoc := dimse.NewAssociation(t.associationConfig(endpoint))
	if err := assoc.Connect(ctx, []string{dimse.VerificationSOPClass}); err != nil {
		classified := classify(err)
		return EchoResult{OK: false, Latency: time.Since(start), Error: classified.Error()}, classified
	}
	defer assoc.Release()

	if err := assoc.CEcho(ctx); err != nil {
		assoc.Abort()
		classified := classify(err)
		return EchoResult{OK: false, Latency: time.Since(start), Error: classified.Error()}, classified
	}

	latency := time.Since(start)
	t.log.Debug().
		Str("host", endpoint.Host).
		Dur("latency", latency).
		Msg("C-ECHO succeeded")

	return EchoResult{OK: true, Latency: latency}, nil
}

// Store uploads one encoded DICOM object. The association is opened,
// used for a single C-STORE, and released; on error paths the socket is
// aborted rather than left half-open.
func (t *PacsTransport) Store(ctx context.Context, endpoint models.PACSEndpoint, obj models.DicomObject) (models.StoreOutcome, error) {
	cfg := t.associationConfig(endpoint)
	if obj.TransferSyntaxUID != "" {
		// The object bytes are already serialized in this syntax, so it
		// is the only one offered for the storage context.
		cfg.TransferSyntaxes = []string{obj.TransferSyntaxUID}
	}

	assoc := dimse.NewAssociation(cfg)
	if err := assoc.Connect(ctx, []string{obj.SOPClassUID}); err != nil {
		return models.StoreOutcome{}, classify(err)
	}

	if obj.TransferSyntaxUID != "" {
		accepted, err := assoc.TransferSyntaxFor(obj.SOPClassUID)
		if err != nil {
			assoc.Abort()
			return models.StoreOutcome{}, classify(err)
		}
		if accepted != obj.TransferSyntaxUID {
			// A nonconforming SCP answered with a syntax we never
			// proposed; sending mislabeled bytes is worse than failing.
			assoc.Abort()
			return models.StoreOutcome{}, classify(fmt.Errorf(
				"remote accepted %s for %s, object is %s: %w",
				accepted, obj.SOPClassUID, obj.TransferSyntaxUID, dimse.ErrNoCommonTransferSyntax))
		}
	}

	resp, err := assoc.CStore(ctx, obj.SOPClassUID, obj.SOPInstanceUID, obj.Data)
	if err != nil {
		assoc.Abort()
		return models.StoreOutcome{}, classify(err)
	}

	if err := assoc.Release(); err != nil {
		// The store completed; a noisy release is worth a log line but
		// not a failed upload.
		t.log.Warn().Err(err).Str("host", endpoint.Host).Msg("Release after C-STORE failed")
	}

	if !resp.Success() {
		return models.StoreOutcome{RemoteResponseCode: resp.Status},
			&models.ProtocolRejectionError{
				Code:   resp.Status,
				Reason: fmt.Sprintf("C-STORE refused with status 0x%04x", resp.Status),
			}
	}

	t.log.Info().
		Str("sop_instance_uid", obj.SOPInstanceUID).
		Str("host", endpoint.Host).
		Int("status", int(resp.Status)).
		Msg("Object stored")

	return models.StoreOutcome{Accepted: true, RemoteResponseCode: resp.Status}, nil
}

// FetchWorklist queries the Modality Worklist SCP for scheduled
// procedures in the given date range.
func (t *PacsTransport) FetchWorklist(ctx context.Context, endpoint models.PACSEndpoint, query dimse.WorklistQuery) ([]models.WorklistEntry, error) {
	assoc := dimse.NewAssociation(t.associationConfig(endpoint))
	if err := assoc.Connect(ctx, []string{dimse.ModalityWorklistInformationModelFind}); err != nil {
		return nil, classify(err)
	}
	defer assoc.Release()

	items, err := assoc.CFindWorklist(ctx, query)
	if err != nil {
		assoc.Abort()
		return nil, classify(err)
	}

	entries := make([]models.WorklistEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, models.WorklistEntry{
			PatientID:            it.PatientID,
			PatientName:          it.PatientName,
			PatientBirthDate:     it.PatientBirthDate,
			PatientSex:           it.PatientSex,
			AccessionNumber:      it.AccessionNumber,
			ProcedureDescription: it.ProcedureDescription,
			Modality:             it.Modality,
			ScheduledDate:        it.ScheduledDate,
			ScheduledTime:        it.ScheduledTime,
			ScheduledStationAE:   it.ScheduledStationAE,
		})
	}
	return entries, nil
}

// classify folds dimse-level errors into the retry taxonomy. Association
// rejection and negotiation mismatch are terminal; everything reachable
// from a flaky network is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rejected *dimse.RejectedError
	if errors.As(err, &rejected) {
		return &models.ProtocolRejectionError{
			Code:   uint16(rejected.Reason),
			Reason: rejected.Error(),
		}
	}
	if errors.Is(err, dimse.ErrNoCommonTransferSyntax) {
		return &models.ProtocolRejectionError{Reason: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	// Aborts, dial failures, timeouts, broken pipes
	return &models.TransientError{Err: err}
}
