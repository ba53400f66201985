package dimse

import (
	"context"
	"fmt"
)

// WorklistQuery is a Modality Worklist C-FIND request bounded by a
// scheduled procedure step date range (DICOM range matching: "from-to").
type WorklistQuery struct {
	DateFrom  string // YYYYMMDD
	DateTo    string // YYYYMMDD
	StationAE string // optional scheduled station filter
	Modality  string // optional modality filter
}

func (q WorklistQuery) dateRange() string {
	if q.DateFrom == q.DateTo {
		return q.DateFrom
	}
	return q.DateFrom + "-" + q.DateTo
}

// WorklistItem is one scheduled procedure returned by the MWL SCP
type WorklistItem struct {
	PatientID            string
	PatientName          string
	PatientBirthDate     string
	PatientSex           string
	AccessionNumber      string
	ProcedureDescription string
	Modality             string
	ScheduledDate        string
	ScheduledTime        string
	ScheduledStationAE   string
}

// CFindWorklist performs a Modality Worklist C-FIND, collecting every
// pending result until the SCP reports final success.
func (a *Association) CFindWorklist(ctx context.Context, query WorklistQuery) ([]WorklistItem, error) {
	pc, err := a.contextFor(ModalityWorklistInformationModelFind)
	if err != nil {
		return nil, err
	}

	identifier := buildWorklistIdentifier(query)

	msgID := a.nextMessageID()
	command := buildCommand(func(d *dataset) {
		d.putUID(tagAffectedSOPClass, ModalityWorklistInformationModelFind)
		d.putUint16(tagCommandField, cmdCFindRQ)
		d.putUint16(tagMessageID, msgID)
		d.putUint16(tagPriority, 0)
		d.putUint16(tagDataSetType, dataSetPresent)
	})

	if err := a.sendMessage(pc.id, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND-RQ: %w", err)
	}

	var items []WorklistItem
	for {
		resp, err := a.receiveWithCancel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to receive C-FIND-RSP: %w", err)
		}

		status, ok := resp.command.getUint16(tagStatus)
		if !ok {
			return nil, fmt.Errorf("C-FIND-RSP missing status")
		}

		switch {
		case status == statusPending || status == statusPendingWarn:
			ds, err := decodeDataset(resp.data)
			if err != nil {
				return nil, fmt.Errorf("bad C-FIND identifier: %w", err)
			}
			items = append(items, datasetToWorklistItem(ds))
		case status == statusSuccess:
			return items, nil
		case status == statusCancel:
			return items, fmt.Errorf("C-FIND cancelled by remote")
		default:
			return nil, fmt.Errorf("C-FIND failed with status 0x%04x", status)
		}
	}
}

// buildWorklistIdentifier encodes the MWL query identifier. Return keys
// are requested with empty values per the DICOM matching rules; the date
// bound lives inside the scheduled procedure step sequence item.
func buildWorklistIdentifier(query WorklistQuery) []byte {
	d := newDataset()
	d.putString(tagSpecificCharacterSet, "ISO_IR 100")
	d.putString(tagAccessionNumber, "")
	d.putString(tagPatientName, "")
	d.putString(tagPatientID, "")
	d.putString(tagPatientBirthDate, "")
	d.putString(tagPatientSex, "")
	d.putString(tagRequestedProcedureDesc, "")

	sps := newDataset()
	sps.putString(tagScheduledStationAETitle, query.StationAE)
	sps.putString(tagSPSStartDate, query.dateRange())
	sps.putString(tagSPSStartTime, "")
	sps.putString(tagModality, query.Modality)
	sps.putString(tagSPSDescription, "")
	d.putSequence(tagSPSSequence, sps)

	return d.encode()
}

func datasetToWorklistItem(ds *dataset) WorklistItem {
	item := WorklistItem{
		PatientID:            ds.getString(tagPatientID),
		PatientName:          ds.getString(tagPatientName),
		PatientBirthDate:     ds.getString(tagPatientBirthDate),
		PatientSex:           ds.getString(tagPatientSex),
		AccessionNumber:      ds.getString(tagAccessionNumber),
		ProcedureDescription: ds.getString(tagRequestedProcedureDesc),
	}

	if spsItems, ok := ds.sequences[tagSPSSequence]; ok && len(spsItems) > 0 {
		sps := spsItems[0]
		item.Modality = sps.getString(tagModality)
		item.ScheduledDate = sps.getString(tagSPSStartDate)
		item.ScheduledTime = sps.getString(tagSPSStartTime)
		item.ScheduledStationAE = sps.getString(tagScheduledStationAETitle)
		if item.ProcedureDescription == "" {
			item.ProcedureDescription = sps.getString(tagSPSDescription)
		}
	}

	return item
}
