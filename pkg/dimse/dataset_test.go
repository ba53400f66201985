package dimse

import (
	"encoding/binary"
	"testing"
)

func TestDatasetRoundTrip(t *testing.T) {
	d := newDataset()
	d.putString(tagPatientName, "Doe^John")
	d.putString(tagPatientID, "PID-1")
	d.putUint16(tagStatus, statusPending)
	d.putUID(tagAffectedSOPClass, VerificationSOPClass)

	decoded, err := decodeDataset(d.encode())
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}

	if got := decoded.getString(tagPatientName); got != "Doe^John" {
		t.Errorf("patient name %q", got)
	}
	if got := decoded.getString(tagPatientID); got != "PID-1" {
		t.Errorf("patient id %q", got)
	}
	if got, ok := decoded.getUint16(tagStatus); !ok || got != statusPending {
		t.Errorf("status %04x ok=%v", got, ok)
	}
	if got := decoded.getString(tagAffectedSOPClass); got != VerificationSOPClass {
		t.Errorf("sop class %q", got)
	}
}

func TestDatasetStringPadding(t *testing.T) {
	d := newDataset()
	d.putString(tagPatientID, "ODD")
	if len(d.elements[tagPatientID])%2 != 0 {
		t.Error("string value not padded to even length")
	}

	d.putUID(tagAffectedSOPClass, "1.2.3")
	raw := d.elements[tagAffectedSOPClass]
	if len(raw)%2 != 0 {
		t.Error("UID value not padded to even length")
	}
	if raw[len(raw)-1] != 0x00 {
		t.Error("UID not NUL padded")
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	sps := newDataset()
	sps.putString(tagModality, "OT")
	sps.putString(tagSPSStartDate, "20260831")

	d := newDataset()
	d.putString(tagPatientID, "PID-9")
	d.putSequence(tagSPSSequence, sps)

	decoded, err := decodeDataset(d.encode())
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}

	items, ok := decoded.sequences[tagSPSSequence]
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 sequence item, got %d", len(items))
	}
	if got := items[0].getString(tagModality); got != "OT" {
		t.Errorf("modality %q", got)
	}
	if got := items[0].getString(tagSPSStartDate); got != "20260831" {
		t.Errorf("start date %q", got)
	}
}

func TestDatasetTagOrdering(t *testing.T) {
	d := newDataset()
	d.putString(tagRequestedProcedureDesc, "desc")
	d.putString(tagAccessionNumber, "ACC1")
	d.putString(tagPatientID, "P1")

	encoded := d.encode()

	var lastGroup, lastElement uint16
	rest := encoded
	for len(rest) >= 8 {
		group := binary.LittleEndian.Uint16(rest[0:2])
		element := binary.LittleEndian.Uint16(rest[2:4])
		length := binary.LittleEndian.Uint32(rest[4:8])
		if group < lastGroup || (group == lastGroup && element < lastElement) {
			t.Fatalf("tag (%04X,%04X) out of order", group, element)
		}
		lastGroup, lastElement = group, element
		rest = rest[8+length:]
	}
}

func TestBuildCommandGroupLength(t *testing.T) {
	cmd := buildCommand(func(d *dataset) {
		d.putUID(tagAffectedSOPClass, VerificationSOPClass)
		d.putUint16(tagCommandField, cmdCEchoRQ)
		d.putUint16(tagMessageID, 1)
		d.putUint16(tagDataSetType, dataSetNull)
	})

	decoded, err := decodeDataset(cmd)
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}

	groupLenBytes, ok := decoded.elements[tagCommandGroupLength]
	if !ok || len(groupLenBytes) != 4 {
		t.Fatal("command group length missing")
	}
	groupLen := binary.LittleEndian.Uint32(groupLenBytes)

	// Group length covers everything after its own element
	if int(groupLen) != len(cmd)-12 {
		t.Errorf("group length %d, want %d", groupLen, len(cmd)-12)
	}
	if got, _ := decoded.getUint16(tagCommandField); got != cmdCEchoRQ {
		t.Errorf("command field %04x", got)
	}
}

func TestWorklistIdentifier(t *testing.T) {
	identifier := buildWorklistIdentifier(WorklistQuery{
		DateFrom: "20260801",
		DateTo:   "20260831",
		Modality: "OT",
	})

	decoded, err := decodeDataset(identifier)
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}

	// Return keys present with empty values
	if _, ok := decoded.elements[tagPatientName]; !ok {
		t.Error("patient name return key missing")
	}
	items, ok := decoded.sequences[tagSPSSequence]
	if !ok || len(items) != 1 {
		t.Fatal("scheduled procedure step sequence missing")
	}
	if got := items[0].getString(tagSPSStartDate); got != "20260801-20260831" {
		t.Errorf("date range %q", got)
	}
	if got := items[0].getString(tagModality); got != "OT" {
		t.Errorf("modality %q", got)
	}
}

func TestWorklistQuerySingleDay(t *testing.T) {
	q := WorklistQuery{DateFrom: "20260831", DateTo: "20260831"}
	if got := q.dateRange(); got != "20260831" {
		t.Errorf("single day range %q", got)
	}
}

func TestDatasetToWorklistItem(t *testing.T) {
	sps := newDataset()
	sps.putString(tagModality, "US")
	sps.putString(tagSPSStartDate, "20260831")
	sps.putString(tagSPSStartTime, "093000")
	sps.putString(tagSPSDescription, "Abdominal ultrasound")

	d := newDataset()
	d.putString(tagPatientID, "PID-7")
	d.putString(tagPatientName, "Roe^Jane")
	d.putString(tagAccessionNumber, "ACC-7")
	d.putSequence(tagSPSSequence, sps)

	item := datasetToWorklistItem(d)
	if item.PatientID != "PID-7" || item.PatientName != "Roe^Jane" {
		t.Errorf("patient fields %+v", item)
	}
	if item.Modality != "US" || item.ScheduledDate != "20260831" {
		t.Errorf("sps fields %+v", item)
	}
	// Falls back to the SPS description when the requested procedure
	// description is absent
	if item.ProcedureDescription != "Abdominal ultrasound" {
		t.Errorf("description %q", item.ProcedureDescription)
	}
}

func TestStripFileMeta(t *testing.T) {
	// Part 10 framing: preamble + DICM + one group 0002 element + dataset
	var file []byte
	file = append(file, make([]byte, 128)...)
	file = append(file, []byte("DICM")...)

	// (0002,0010) UI, explicit VR short form
	meta := []byte{0x02, 0x00, 0x10, 0x00, 'U', 'I', 0x06, 0x00}
	meta = append(meta, []byte("1.2.3\x00")...)
	file = append(file, meta...)

	ds := []byte{0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'O', 'T'}
	file = append(file, ds...)

	got, err := stripFileMeta(file)
	if err != nil {
		t.Fatalf("stripFileMeta failed: %v", err)
	}
	if string(got) != string(ds) {
		t.Errorf("dataset mismatch: %v", got)
	}
}

func TestStripFileMetaBareDataset(t *testing.T) {
	bare := []byte{0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'O', 'T'}
	got, err := stripFileMeta(bare)
	if err != nil {
		t.Fatalf("stripFileMeta failed: %v", err)
	}
	if string(got) != string(bare) {
		t.Error("bare dataset should pass through unchanged")
	}
}
