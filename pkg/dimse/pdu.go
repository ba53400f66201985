package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PDU types (DICOM PS3.8 section 9.3)
const (
	pduAssociateRQ = 0x01
	pduAssociateAC = 0x02
	pduAssociateRJ = 0x03
	pduPDataTF     = 0x04
	pduReleaseRQ   = 0x05
	pduReleaseRP   = 0x06
	pduAbort       = 0x07
)

// Item types within association PDUs
const (
	itemApplicationContext  = 0x10
	itemPresentationCtxRQ   = 0x20
	itemPresentationCtxAC   = 0x21
	itemAbstractSyntax      = 0x30
	itemTransferSyntax      = 0x40
	itemUserInformation     = 0x50
	itemMaxLength           = 0x51
	itemImplementationClass = 0x52
	itemImplementationVer   = 0x55
)

// Presentation context result values in an A-ASSOCIATE-AC
const (
	pcAcceptance           = 0
	pcUserRejection        = 1
	pcNoReason             = 2
	pcAbstractSyntaxNotSup = 3
	pcTransferSyntaxNotSup = 4
)

// proposedContext is one presentation context offered in the A-ASSOCIATE-RQ
type proposedContext struct {
	id               byte
	abstractSyntax   string
	transferSyntaxes []string
}

// acceptedContext is the remote's answer for one presentation context
type acceptedContext struct {
	id             byte
	abstractSyntax string
	transferSyntax string
}

// RejectedError carries the A-ASSOCIATE-RJ result/source/reason triple.
// Rejections are configuration-class failures and must not be retried
// with the same parameters.
type RejectedError struct {
	Result byte // 1 permanent, 2 transient
	Source byte
	Reason byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("association rejected: %s (result=%d source=%d reason=%d)",
		e.reasonText(), e.Result, e.Source, e.Reason)
}

func (e *RejectedError) reasonText() string {
	if e.Source == 1 {
		switch e.Reason {
		case 1:
			return "no reason given"
		case 2:
			return "application context not supported"
		case 3:
			return "calling AE title not recognized"
		case 7:
			return "called AE title not recognized"
		}
	}
	if e.Source == 3 && e.Reason == 2 {
		return "local limit exceeded (too many associations)"
	}
	return "rejected by remote"
}

// AbortError reports an A-ABORT received from the remote peer
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("association aborted by peer (source=%d reason=%d)", e.Source, e.Reason)
}

// rawPDU is one PDU read off the wire
type rawPDU struct {
	pduType byte
	data    []byte
}

// readPDU reads one complete PDU from the connection
func readPDU(r io.Reader) (*rawPDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read PDU header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[2:6])
	if length > 64*1024*1024 {
		return nil, fmt.Errorf("PDU length %d exceeds sanity limit", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read PDU body: %w", err)
	}

	return &rawPDU{pduType: header[0], data: data}, nil
}

// writePDU frames and writes one PDU
func writePDU(w io.Writer, pduType byte, data []byte) error {
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// buildAssociateRQ builds the body of an A-ASSOCIATE-RQ PDU
func buildAssociateRQ(callingAET, calledAET string, contexts []proposedContext, maxPDU uint32) []byte {
	var body []byte

	// Protocol version, reserved
	body = append(body, 0x00, 0x01, 0x00, 0x00)
	body = append(body, padAET(calledAET)...)
	body = append(body, padAET(callingAET)...)
	body = append(body, make([]byte, 32)...)

	body = append(body, buildSimpleItem(itemApplicationContext, []byte(ApplicationContextUID))...)

	for _, pc := range contexts {
		body = append(body, buildPresentationContextRQ(pc)...)
	}

	body = append(body, buildUserInformation(maxPDU)...)

	return body
}

// buildSimpleItem builds an item with a 2-byte big-endian length
func buildSimpleItem(itemType byte, value []byte) []byte {
	item := []byte{itemType, 0x00}
	item = append(item, byte(len(value)>>8), byte(len(value)))
	return append(item, value...)
}

func buildPresentationContextRQ(pc proposedContext) []byte {
	var inner []byte
	inner = append(inner, pc.id, 0x00, 0x00, 0x00)
	inner = append(inner, buildSimpleItem(itemAbstractSyntax, []byte(pc.abstractSyntax))...)
	for _, ts := range pc.transferSyntaxes {
		inner = append(inner, buildSimpleItem(itemTransferSyntax, []byte(ts))...)
	}

	item := []byte{itemPresentationCtxRQ, 0x00}
	item = append(item, byte(len(inner)>>8), byte(len(inner)))
	return append(item, inner...)
}

func buildUserInformation(maxPDU uint32) []byte {
	var inner []byte

	maxLen := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLen, maxPDU)
	inner = append(inner, buildSimpleItem(itemMaxLength, maxLen)...)
	inner = append(inner, buildSimpleItem(itemImplementationClass, []byte(implementationClassUID))...)
	inner = append(inner, buildSimpleItem(itemImplementationVer, []byte(implementationVersionName))...)

	item := []byte{itemUserInformation, 0x00}
	item = append(item, byte(len(inner)>>8), byte(len(inner)))
	return append(item, inner...)
}

// associateAC is the parsed result of an A-ASSOCIATE-AC body
type associateAC struct {
	contexts     map[byte]acceptedContext // only accepted contexts
	results      map[byte]byte            // result per proposed context id
	remoteMaxPDU uint32
}

// parseAssociateAC walks the variable items of an A-ASSOCIATE-AC body
func parseAssociateAC(data []byte) (*associateAC, error) {
	if len(data) < 68 {
		return nil, fmt.Errorf("A-ASSOCIATE-AC body too short: %d bytes", len(data))
	}

	ac := &associateAC{
		contexts:     make(map[byte]acceptedContext),
		results:      make(map[byte]byte),
		remoteMaxPDU: 16384,
	}

	// Skip fixed fields: version(2) reserved(2) called(16) calling(16) reserved(32)
	rest := data[68:]
	for len(rest) >= 4 {
		itemType := rest[0]
		itemLen := int(rest[2])<<8 | int(rest[3])
		if len(rest) < 4+itemLen {
			return nil, fmt.Errorf("truncated item 0x%02x in A-ASSOCIATE-AC", itemType)
		}
		value := rest[4 : 4+itemLen]

		switch itemType {
		case itemPresentationCtxAC:
			if itemLen < 4 {
				return nil, fmt.Errorf("presentation context item too short")
			}
			id := value[0]
			result := value[2]
			ac.results[id] = result
			if result == pcAcceptance {
				ts := parseTransferSyntaxSubItem(value[4:])
				ac.contexts[id] = acceptedContext{id: id, transferSyntax: ts}
			}
		case itemUserInformation:
			if maxPDU := parseMaxLengthSubItem(value); maxPDU > 0 {
				ac.remoteMaxPDU = maxPDU
			}
		}

		rest = rest[4+itemLen:]
	}

	return ac, nil
}

func parseTransferSyntaxSubItem(data []byte) string {
	for len(data) >= 4 {
		subType := data[0]
		subLen := int(data[2])<<8 | int(data[3])
		if len(data) < 4+subLen {
			return ""
		}
		if subType == itemTransferSyntax {
			return string(data[4 : 4+subLen])
		}
		data = data[4+subLen:]
	}
	return ""
}

func parseMaxLengthSubItem(data []byte) uint32 {
	for len(data) >= 4 {
		subType := data[0]
		subLen := int(data[2])<<8 | int(data[3])
		if len(data) < 4+subLen {
			return 0
		}
		if subType == itemMaxLength && subLen == 4 {
			return binary.BigEndian.Uint32(data[4:8])
		}
		data = data[4+subLen:]
	}
	return 0
}

// buildAbort builds an A-ABORT body (service-user initiated)
func buildAbort() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00}
}

// buildReleaseRQ builds an A-RELEASE-RQ body
func buildReleaseRQ() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00}
}

// P-DATA-TF message control header flags
const (
	pdvCommand = 0x01
	pdvLast    = 0x02
)

// pdv is one presentation data value within a P-DATA-TF PDU
type pdv struct {
	contextID byte
	flags     byte
	data      []byte
}

// buildPDataTF frames a list of PDVs into one P-DATA-TF body
func buildPDataTF(pdvs []pdv) []byte {
	var body []byte
	for _, p := range pdvs {
		itemLen := make([]byte, 4)
		binary.BigEndian.PutUint32(itemLen, uint32(len(p.data)+2))
		body = append(body, itemLen...)
		body = append(body, p.contextID, p.flags)
		body = append(body, p.data...)
	}
	return body
}

// parsePDataTF splits a P-DATA-TF body back into PDVs
func parsePDataTF(data []byte) ([]pdv, error) {
	var pdvs []pdv
	for len(data) > 0 {
		if len(data) < 6 {
			return nil, fmt.Errorf("truncated PDV header")
		}
		itemLen := binary.BigEndian.Uint32(data[0:4])
		if itemLen < 2 || len(data) < int(4+itemLen) {
			return nil, fmt.Errorf("truncated PDV body")
		}
		pdvs = append(pdvs, pdv{
			contextID: data[4],
			flags:     data[5],
			data:      data[6 : 4+itemLen],
		})
		data = data[4+itemLen:]
	}
	return pdvs, nil
}

// padAET pads an AE Title to 16 bytes with spaces
func padAET(aet string) []byte {
	result := make([]byte, 16)
	copy(result, []byte(aet))
	for i := len(aet); i < 16; i++ {
		result[i] = ' '
	}
	return result
}
