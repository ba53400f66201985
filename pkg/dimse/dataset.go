package dimse

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Minimal implicit VR little endian dataset codec for DIMSE command sets
// and worklist query/identifier datasets. Storage payloads are serialized
// by the encoder package; this codec only covers what the protocol layer
// itself has to read and write.

// elementTag identifies a DICOM data element
type elementTag struct {
	Group   uint16
	Element uint16
}

func (t elementTag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// Command set tags (group 0000)
var (
	tagCommandGroupLength   = elementTag{0x0000, 0x0000}
	tagAffectedSOPClass     = elementTag{0x0000, 0x0002}
	tagCommandField         = elementTag{0x0000, 0x0100}
	tagMessageID            = elementTag{0x0000, 0x0110}
	tagMessageIDRespondedTo = elementTag{0x0000, 0x0120}
	tagPriority             = elementTag{0x0000, 0x0700}
	tagDataSetType          = elementTag{0x0000, 0x0800}
	tagStatus               = elementTag{0x0000, 0x0900}
	tagAffectedSOPInstance  = elementTag{0x0000, 0x1000}
)

// Worklist query tags
var (
	tagSpecificCharacterSet    = elementTag{0x0008, 0x0005}
	tagAccessionNumber         = elementTag{0x0008, 0x0050}
	tagModality                = elementTag{0x0008, 0x0060}
	tagPatientName             = elementTag{0x0010, 0x0010}
	tagPatientID               = elementTag{0x0010, 0x0020}
	tagPatientBirthDate        = elementTag{0x0010, 0x0030}
	tagPatientSex              = elementTag{0x0010, 0x0040}
	tagRequestedProcedureDesc  = elementTag{0x0032, 0x1060}
	tagSPSSequence             = elementTag{0x0040, 0x0100}
	tagScheduledStationAETitle = elementTag{0x0040, 0x0001}
	tagSPSStartDate            = elementTag{0x0040, 0x0002}
	tagSPSStartTime            = elementTag{0x0040, 0x0003}
	tagSPSDescription          = elementTag{0x0040, 0x0007}
)

// Sequence delimitation tags
var (
	tagItem              = elementTag{0xFFFE, 0xE000}
	tagItemDelimiter     = elementTag{0xFFFE, 0xE00D}
	tagSequenceDelimiter = elementTag{0xFFFE, 0xE0DD}
)

// Command field values (DICOM PS3.7)
const (
	cmdCEchoRQ   = 0x0030
	cmdCEchoRSP  = 0x8030
	cmdCStoreRQ  = 0x0001
	cmdCStoreRSP = 0x8001
	cmdCFindRQ   = 0x0020
	cmdCFindRSP  = 0x8020
)

// Data set type values
const (
	dataSetPresent = 0x0000
	dataSetNull    = 0x0101
)

// C-FIND status values
const (
	statusSuccess     = 0x0000
	statusPending     = 0xFF00
	statusPendingWarn = 0xFF01
	statusCancel      = 0xFE00
)

// dataset is an ordered set of implicit VR elements
type dataset struct {
	elements  map[elementTag][]byte
	sequences map[elementTag][]*dataset
}

func newDataset() *dataset {
	return &dataset{
		elements:  make(map[elementTag][]byte),
		sequences: make(map[elementTag][]*dataset),
	}
}

// putString stores a string value, padded to even length with a space
// (NUL for UIDs is equally valid; SCPs accept both for matching keys)
func (d *dataset) putString(t elementTag, v string) {
	b := []byte(v)
	if len(b)%2 != 0 {
		b = append(b, ' ')
	}
	d.elements[t] = b
}

// putUID stores a UID value, padded to even length with NUL
func (d *dataset) putUID(t elementTag, v string) {
	b := []byte(v)
	if len(b)%2 != 0 {
		b = append(b, 0x00)
	}
	d.elements[t] = b
}

// putUint16 stores a US value
func (d *dataset) putUint16(t elementTag, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	d.elements[t] = b
}

// putSequence stores a sequence of item datasets
func (d *dataset) putSequence(t elementTag, items ...*dataset) {
	d.sequences[t] = items
}

func (d *dataset) getString(t elementTag) string {
	b, ok := d.elements[t]
	if !ok {
		return ""
	}
	return trimDICOMString(b)
}

func (d *dataset) getUint16(t elementTag) (uint16, bool) {
	b, ok := d.elements[t]
	if !ok || len(b) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func trimDICOMString(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == 0x00) {
		b = b[:len(b)-1]
	}
	return string(b)
}

// encode serializes the dataset in implicit VR little endian, tags in
// ascending order as the standard requires
func (d *dataset) encode() []byte {
	tags := make([]elementTag, 0, len(d.elements)+len(d.sequences))
	for t := range d.elements {
		tags = append(tags, t)
	}
	for t := range d.sequences {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})

	var out []byte
	for _, t := range tags {
		if items, ok := d.sequences[t]; ok {
			out = append(out, encodeSequence(t, items)...)
			continue
		}
		v := d.elements[t]
		out = append(out, encodeElementHeader(t, uint32(len(v)))...)
		out = append(out, v...)
	}
	return out
}

func encodeElementHeader(t elementTag, length uint32) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], t.Group)
	binary.LittleEndian.PutUint16(b[2:4], t.Element)
	binary.LittleEndian.PutUint32(b[4:8], length)
	return b
}

// encodeSequence writes a sequence with undefined length and delimited items
func encodeSequence(t elementTag, items []*dataset) []byte {
	out := encodeElementHeader(t, 0xFFFFFFFF)
	for _, item := range items {
		out = append(out, encodeElementHeader(tagItem, 0xFFFFFFFF)...)
		out = append(out, item.encode()...)
		out = append(out, encodeElementHeader(tagItemDelimiter, 0)...)
	}
	out = append(out, encodeElementHeader(tagSequenceDelimiter, 0)...)
	return out
}

// decodeDataset parses an implicit VR little endian byte stream. One level
// of sequence nesting is supported, which covers worklist responses.
func decodeDataset(data []byte) (*dataset, error) {
	d := newDataset()
	rest := data
	for len(rest) > 0 {
		t, length, body, next, err := decodeElement(rest)
		if err != nil {
			return nil, err
		}
		if length == 0xFFFFFFFF {
			items, after, err := decodeSequenceItems(next)
			if err != nil {
				return nil, fmt.Errorf("bad sequence %s: %w", t, err)
			}
			d.sequences[t] = items
			rest = after
			continue
		}
		d.elements[t] = body
		rest = next[len(body):]
	}
	return d, nil
}

// decodeElement reads one element header; for defined lengths body holds
// the value, for undefined lengths the caller parses items from next
func decodeElement(data []byte) (t elementTag, length uint32, body []byte, next []byte, err error) {
	if len(data) < 8 {
		return t, 0, nil, nil, fmt.Errorf("truncated element header")
	}
	t.Group = binary.LittleEndian.Uint16(data[0:2])
	t.Element = binary.LittleEndian.Uint16(data[2:4])
	length = binary.LittleEndian.Uint32(data[4:8])
	next = data[8:]
	if length == 0xFFFFFFFF {
		return t, length, nil, next, nil
	}
	if len(next) < int(length) {
		return t, 0, nil, nil, fmt.Errorf("truncated value for %s", t)
	}
	return t, length, next[:length], next, nil
}

func decodeSequenceItems(data []byte) ([]*dataset, []byte, error) {
	var items []*dataset
	rest := data
	for {
		t, length, _, next, err := decodeElement(rest)
		if err != nil {
			return nil, nil, err
		}
		if t == tagSequenceDelimiter {
			return items, next, nil
		}
		if t != tagItem {
			return nil, nil, fmt.Errorf("unexpected tag %s in sequence", t)
		}

		var itemBytes []byte
		if length == 0xFFFFFFFF {
			itemBytes, next, err = readUntilItemDelimiter(next)
			if err != nil {
				return nil, nil, err
			}
		} else {
			if len(next) < int(length) {
				return nil, nil, fmt.Errorf("truncated sequence item")
			}
			itemBytes = next[:length]
			next = next[length:]
		}

		item, err := decodeDataset(itemBytes)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
		rest = next
	}
}

// readUntilItemDelimiter scans element-by-element to the item delimiter
func readUntilItemDelimiter(data []byte) (item []byte, rest []byte, err error) {
	offset := 0
	for {
		t, length, body, next, err := decodeElement(data[offset:])
		if err != nil {
			return nil, nil, err
		}
		if t == tagItemDelimiter {
			return data[:offset], next, nil
		}
		if length == 0xFFFFFFFF {
			return nil, nil, fmt.Errorf("nested undefined-length element %s not supported", t)
		}
		consumed := 8 + len(body)
		_ = next
		offset += consumed
	}
}

// buildCommand assembles a command set with the mandatory group length
func buildCommand(fill func(*dataset)) []byte {
	d := newDataset()
	fill(d)

	payload := d.encode()
	head := newDataset()
	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(len(payload)))
	head.elements[tagCommandGroupLength] = groupLen

	return append(head.encode(), payload...)
}
