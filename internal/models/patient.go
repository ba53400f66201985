package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PatientContext identifies the subject of a capture session. Immutable
// once the session starts; exactly one is active per session.
type PatientContext struct {
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	BirthDate        string `json:"birth_date"` // DICOM DA format YYYYMMDD
	Sex              string `json:"sex"`        // M, F, O
	AccessionNumber  string `json:"accession_number"`
	StudyDescription string `json:"study_description"`
}

// Validate checks the required identifier fields
func (p PatientContext) Validate() error {
	if strings.TrimSpace(p.PatientID) == "" {
		return &ValidationError{Field: "patient_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.PatientName) == "" {
		return &ValidationError{Field: "patient_name", Reason: "must not be empty"}
	}
	return nil
}

// WorklistEntry is a single scheduled procedure fetched from the hospital
// worklist service. Entries are immutable value objects.
type WorklistEntry struct {
	PatientID            string `json:"patient_id"`
	PatientName          string `json:"patient_name"`
	PatientBirthDate     string `json:"patient_birth_date"`
	PatientSex           string `json:"patient_sex"`
	AccessionNumber      string `json:"accession_number"`
	ProcedureDescription string `json:"procedure_description"`
	Modality             string `json:"modality"`
	ScheduledDate        string `json:"scheduled_date"` // YYYYMMDD
	ScheduledTime        string `json:"scheduled_time"` // HHMMSS
	ScheduledStationAE   string `json:"scheduled_station_ae"`
}

// PatientContext builds a session context from the worklist entry
func (w WorklistEntry) PatientContext() PatientContext {
	return PatientContext{
		PatientID:        w.PatientID,
		PatientName:      w.PatientName,
		BirthDate:        w.PatientBirthDate,
		Sex:              w.PatientSex,
		AccessionNumber:  w.AccessionNumber,
		StudyDescription: w.ProcedureDescription,
	}
}

// PatientTemplate is a break-glass template for emergency sessions where no
// worklist entry exists. BirthDate may be relative ("TODAY-40Y").
type PatientTemplate struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	PatientName      string `json:"patient_name"`
	PatientID        string `json:"patient_id"`
	Sex              string `json:"sex"`
	BirthDate        string `json:"birth_date"`
	StudyDescription string `json:"study_description"`
}

// Resolve materializes the template into a PatientContext, resolving
// relative birth dates and stamping a unique accession number.
func (t PatientTemplate) Resolve(now time.Time) PatientContext {
	return PatientContext{
		PatientID:        t.PatientID,
		PatientName:      t.PatientName,
		BirthDate:        resolveBirthDate(t.BirthDate, now),
		Sex:              t.Sex,
		AccessionNumber:  fmt.Sprintf("EM%s", now.Format("20060102150405")),
		StudyDescription: t.StudyDescription,
	}
}

// resolveBirthDate turns "TODAY-40Y" style values into YYYYMMDD. Absolute
// dates pass through unchanged.
func resolveBirthDate(v string, now time.Time) string {
	if !strings.HasPrefix(v, "TODAY") {
		return v
	}
	rest := strings.TrimPrefix(v, "TODAY")
	if rest == "" {
		return now.Format("20060102")
	}
	if strings.HasPrefix(rest, "-") && strings.HasSuffix(rest, "Y") {
		years, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rest, "-"), "Y"))
		if err == nil {
			return now.AddDate(-years, 0, 0).Format("20060102")
		}
	}
	return now.Format("20060102")
}
