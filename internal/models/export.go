package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExportRecord is the persistent history of one upload job's terminal
// outcome. The live queue is in-memory; history survives restarts.
type ExportRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID       uuid.UUID `gorm:"type:uuid;index" json:"session_id"`
	CaptureID       int64     `gorm:"not null" json:"capture_id"`
	SOPInstanceUID  string    `gorm:"type:varchar(64);index" json:"sop_instance_uid"`
	PatientID       string    `gorm:"type:varchar(64);index" json:"patient_id"`
	AccessionNumber string    `gorm:"type:varchar(64)" json:"accession_number"`
	Status          JobStatus `gorm:"type:varchar(20);not null" json:"status"`
	Attempts        int       `gorm:"not null" json:"attempts"`
	LastError       string    `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt     time.Time `gorm:"index" json:"completed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (ExportRecord) TableName() string {
	return "export_records"
}

// BeforeCreate hook
func (r *ExportRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
