package models

import (
	"testing"
	"time"
)

func TestPatientContextValidate(t *testing.T) {
	valid := PatientContext{PatientID: "P1", PatientName: "Doe^John"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid context rejected: %v", err)
	}

	missing := []PatientContext{
		{PatientName: "Doe^John"},
		{PatientID: "P1"},
		{PatientID: "  ", PatientName: "Doe^John"},
	}
	for i, ctx := range missing {
		if err := ctx.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestWorklistEntryPatientContext(t *testing.T) {
	entry := WorklistEntry{
		PatientID:            "P7",
		PatientName:          "Roe^Jane",
		PatientBirthDate:     "19800101",
		PatientSex:           "F",
		AccessionNumber:      "ACC-7",
		ProcedureDescription: "Wound documentation",
	}
	ctx := entry.PatientContext()
	if ctx.PatientID != "P7" || ctx.AccessionNumber != "ACC-7" {
		t.Errorf("unexpected context %+v", ctx)
	}
	if ctx.StudyDescription != "Wound documentation" {
		t.Errorf("study description %q", ctx.StudyDescription)
	}
}

func TestTemplateResolveRelativeBirthDate(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tpl := PatientTemplate{
		ID:        "emergency-male",
		PatientID: "EMERGENCY-M",
		BirthDate: "TODAY-40Y",
	}
	ctx := tpl.Resolve(now)
	if ctx.BirthDate != "19860831" {
		t.Errorf("birth date %q, want 19860831", ctx.BirthDate)
	}
	if ctx.AccessionNumber == "" {
		t.Error("accession number not stamped")
	}
}

func TestTemplateResolveAbsoluteAndEdgeCases(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	cases := map[string]string{
		"19991231":  "19991231", // absolute passes through
		"TODAY":     "20260831",
		"TODAY-0Y":  "20260831",
		"TODAY-10Y": "20160831",
		"TODAY-bad": "20260831", // unparseable falls back to today
	}
	for in, want := range cases {
		got := PatientTemplate{BirthDate: in}.Resolve(now).BirthDate
		if got != want {
			t.Errorf("Resolve(%q) birth date = %q, want %q", in, got, want)
		}
	}
}
