package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs within the export queue. Higher values dispatch
// first among ready jobs.
type Priority int

const (
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

// JobStatus tracks an upload job through the queue
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// PACSEndpoint identifies the target PACS server for an upload
type PACSEndpoint struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CalledAE   string `json:"called_ae"`
	CallingAE  string `json:"calling_ae"`
	TimeoutSec int    `json:"timeout_sec"`
}

// UploadJob wraps one DicomObject pending delivery to the PACS. Removed
// from the queue on terminal outcome, not from history.
type UploadJob struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	CaptureID int64        `json:"capture_id"`
	Object    *DicomObject `json:"-"`

	// Patient identifiers carried for the export history record
	PatientID       string `json:"patient_id"`
	AccessionNumber string `json:"accession_number"`

	Endpoint  PACSEndpoint `json:"endpoint"`
	Priority  Priority     `json:"priority"`
	Status    JobStatus    `json:"status"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	AddedAt   time.Time    `json:"added_at"`
}

// StoreOutcome is the terminal result of a C-STORE exchange
type StoreOutcome struct {
	Accepted           bool
	RemoteResponseCode uint16
}
