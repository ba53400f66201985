package dimse

import (
	"context"
	"encoding/binary"
	"fmt"
)

// StoreResponse is the parsed C-STORE-RSP
type StoreResponse struct {
	Status uint16
}

// Success reports whether the remote accepted the object. Warning
// statuses (Bxxx: coercion, elements discarded) still mean stored.
func (r StoreResponse) Success() bool {
	return r.Status == statusSuccess || (r.Status&0xF000) == 0xB000
}

// CStore transfers one serialized SOP instance to the remote SCP. The
// instance bytes are DICOM Part 10 file bytes; the preamble and file meta
// group are stripped before transmission since only the dataset travels
// inside P-DATA-TF.
func (a *Association) CStore(ctx context.Context, sopClassUID, sopInstanceUID string, fileBytes []byte) (*StoreResponse, error) {
	pc, err := a.contextFor(sopClassUID)
	if err != nil {
		return nil, err
	}

	payload, err := stripFileMeta(fileBytes)
	if err != nil {
		return nil, fmt.Errorf("bad DICOM payload: %w", err)
	}

	msgID := a.nextMessageID()
	command := buildCommand(func(d *dataset) {
		d.putUID(tagAffectedSOPClass, sopClassUID)
		d.putUint16(tagCommandField, cmdCStoreRQ)
		d.putUint16(tagMessageID, msgID)
		d.putUint16(tagPriority, 0) // MEDIUM
		d.putUint16(tagDataSetType, dataSetPresent)
		d.putUID(tagAffectedSOPInstance, sopInstanceUID)
	})

	if err := a.sendMessage(pc.id, command, payload); err != nil {
		return nil, fmt.Errorf("failed to send C-STORE-RQ: %w", err)
	}

	resp, err := a.receiveWithCancel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive C-STORE-RSP: %w", err)
	}

	status, ok := resp.command.getUint16(tagStatus)
	if !ok {
		return nil, fmt.Errorf("C-STORE-RSP missing status")
	}
	return &StoreResponse{Status: status}, nil
}

// stripFileMeta removes the 128-byte preamble, "DICM" prefix, and the
// group 0002 file meta elements (always explicit VR little endian),
// returning the bare dataset.
func stripFileMeta(data []byte) ([]byte, error) {
	if len(data) < 132 || string(data[128:132]) != "DICM" {
		// Not Part 10 framed; assume it is already a bare dataset
		return data, nil
	}

	rest := data[132:]
	for len(rest) >= 8 {
		group := binary.LittleEndian.Uint16(rest[0:2])
		if group != 0x0002 {
			return rest, nil
		}
		vr := string(rest[4:6])
		var headerLen, valueLen int
		switch vr {
		case "OB", "OW", "OF", "SQ", "UT", "UN":
			if len(rest) < 12 {
				return nil, fmt.Errorf("truncated file meta element")
			}
			headerLen = 12
			valueLen = int(binary.LittleEndian.Uint32(rest[8:12]))
		default:
			headerLen = 8
			valueLen = int(binary.LittleEndian.Uint16(rest[6:8]))
		}
		if len(rest) < headerLen+valueLen {
			return nil, fmt.Errorf("truncated file meta value")
		}
		rest = rest[headerLen+valueLen:]
	}
	return nil, fmt.Errorf("no dataset after file meta group")
}
