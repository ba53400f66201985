package encoder

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/medcapture/capture-gateway/internal/models"
	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// SOP Class UIDs for secondary capture objects
const (
	secondaryCaptureSOPClass          = "1.2.840.10008.5.1.4.1.1.7"
	multiFrameTrueColorSCSOPClass     = "1.2.840.10008.5.1.4.1.1.7.3"
	explicitVRLittleEndianTransferUID = "1.2.840.10008.1.2.1"
	jpegBaselineTransferUID           = "1.2.840.10008.1.2.4.50"
)

// StudyContext carries the session-level identifiers shared by every
// capture exported from one session. Generated fresh per session.
type StudyContext struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	StudyDate         string
	StudyTime         string
}

// NewStudyContext mints study and series UIDs for a new session
func NewStudyContext(now time.Time) StudyContext {
	return StudyContext{
		StudyInstanceUID:  GenerateUID(),
		SeriesInstanceUID: GenerateUID(),
		StudyDate:         now.Format("20060102"),
		StudyTime:         now.Format("150405"),
	}
}

// GenerateUID returns a DICOM UID under the UUID-derived 2.25 root
// (ISO/IEC 9834-8), unique without an assigned org root.
func GenerateUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// Config is the encoding policy
type Config struct {
	// MaxVideoFrames caps multi-frame datasets. Exceeding it is a
	// SizeLimitExceeded error, never silent truncation.
	MaxVideoFrames int
}

// Encoder converts captures plus patient/study metadata into validated
// DICOM objects. Encoding is a pure function of its inputs.
type Encoder struct {
	cfg Config
	log zerolog.Logger
}

// New creates an encoder with the given policy
func New(cfg Config, log zerolog.Logger) *Encoder {
	if cfg.MaxVideoFrames <= 0 {
		cfg.MaxVideoFrames = 600
	}
	return &Encoder{cfg: cfg, log: log.With().Str("component", "encoder").Logger()}
}

// Encode builds one DicomObject from a capture. A failure never partially
// mutates shared state: everything is assembled locally and only the
// finished, conformance-checked object is returned.
func (e *Encoder) Encode(capture models.Capture, patient models.PatientContext, study StudyContext) (*models.DicomObject, error) {
	if err := checkRequiredFields(patient, study); err != nil {
		return nil, err
	}

	payload := capture.Payload
	if payload.Width <= 0 || payload.Height <= 0 {
		return nil, &models.EncodingError{
			Kind:   models.EncodingMissingRequiredField,
			Detail: fmt.Sprintf("invalid dimensions %dx%d", payload.Width, payload.Height),
		}
	}
	if len(payload.Frames) == 0 {
		return nil, &models.EncodingError{
			Kind:   models.EncodingMissingRequiredField,
			Detail: "capture has no frame data",
		}
	}
	if capture.Kind == models.MediaVideo && len(payload.Frames) > e.cfg.MaxVideoFrames {
		return nil, &models.EncodingError{
			Kind:   models.EncodingSizeLimitExceeded,
			Detail: fmt.Sprintf("%d frames exceeds limit of %d", len(payload.Frames), e.cfg.MaxVideoFrames),
		}
	}
	if capture.Kind == models.MediaPhoto && len(payload.Frames) != 1 {
		return nil, &models.EncodingError{
			Kind:   models.EncodingUnsupportedPixelFmt,
			Detail: fmt.Sprintf("photo capture carries %d frames", len(payload.Frames)),
		}
	}

	pixelTraits, err := traitsFor(payload.Format)
	if err != nil {
		return nil, err
	}

	if payload.Format != models.PixelJPEG {
		expected := payload.Width * payload.Height * pixelTraits.samplesPerPixel
		for i, f := range payload.Frames {
			if len(f) != expected {
				return nil, &models.EncodingError{
					Kind: models.EncodingConformanceViolation,
					Detail: fmt.Sprintf("frame %d length %d does not match %dx%dx%d",
						i, len(f), payload.Height, payload.Width, pixelTraits.samplesPerPixel),
				}
			}
		}
	}

	sopClass := secondaryCaptureSOPClass
	if capture.Kind == models.MediaVideo {
		sopClass = multiFrameTrueColorSCSOPClass
	}
	sopInstanceUID := GenerateUID()

	elements, err := buildElements(capture, patient, study, sopClass, sopInstanceUID, pixelTraits)
	if err != nil {
		return nil, err
	}

	pixelData, err := buildPixelData(payload, pixelTraits)
	if err != nil {
		return nil, err
	}
	pixelElem, err := dicom.NewElement(tag.PixelData, pixelData)
	if err != nil {
		return nil, &models.EncodingError{Kind: models.EncodingConformanceViolation, Detail: err.Error()}
	}
	elements = append(elements, pixelElem)

	ds := dicom.Dataset{Elements: elements}
	if err := verifyConformance(ds); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		return nil, &models.EncodingError{
			Kind:   models.EncodingConformanceViolation,
			Detail: fmt.Sprintf("serialization failed: %v", err),
		}
	}

	e.log.Debug().
		Int64("capture_id", capture.ID).
		Str("sop_instance_uid", sopInstanceUID).
		Int("frames", len(payload.Frames)).
		Int("bytes", buf.Len()).
		Msg("Encoded DICOM object")

	return &models.DicomObject{
		CaptureID:         capture.ID,
		SOPClassUID:       sopClass,
		SOPInstanceUID:    sopInstanceUID,
		StudyInstanceUID:  study.StudyInstanceUID,
		SeriesInstanceUID: study.SeriesInstanceUID,
		TransferSyntaxUID: pixelTraits.transferSyntax,
		Rows:              payload.Height,
		Columns:           payload.Width,
		SamplesPerPixel:   pixelTraits.samplesPerPixel,
		NumberOfFrames:    len(payload.Frames),
		Data:              buf.Bytes(),
	}, nil
}

type traits struct {
	samplesPerPixel int
	photometric     string
	transferSyntax  string
	encapsulated    bool
}

func traitsFor(format models.PixelFormat) (traits, error) {
	switch format {
	case models.PixelRGB8:
		return traits{samplesPerPixel: 3, photometric: "RGB", transferSyntax: explicitVRLittleEndianTransferUID}, nil
	case models.PixelGray8:
		return traits{samplesPerPixel: 1, photometric: "MONOCHROME2", transferSyntax: explicitVRLittleEndianTransferUID}, nil
	case models.PixelJPEG:
		return traits{samplesPerPixel: 3, photometric: "YBR_FULL_422", transferSyntax: jpegBaselineTransferUID, encapsulated: true}, nil
	default:
		return traits{}, &models.EncodingError{
			Kind:   models.EncodingUnsupportedPixelFmt,
			Detail: fmt.Sprintf("pixel format %q", format),
		}
	}
}

func checkRequiredFields(patient models.PatientContext, study StudyContext) error {
	missing := ""
	switch {
	case patient.PatientID == "":
		missing = "patient id"
	case patient.PatientName == "":
		missing = "patient name"
	case study.StudyInstanceUID == "":
		missing = "study instance uid"
	case study.SeriesInstanceUID == "":
		missing = "series instance uid"
	}
	if missing != "" {
		return &models.EncodingError{Kind: models.EncodingMissingRequiredField, Detail: missing}
	}
	return nil
}

func buildElements(capture models.Capture, patient models.PatientContext, study StudyContext, sopClass, sopInstanceUID string, t traits) ([]*dicom.Element, error) {
	birthDate := patient.BirthDate
	if birthDate == "" {
		birthDate = "19000101" // unknown, but the tag must be present
	}
	sex := patient.Sex
	if sex == "" {
		sex = "O"
	}

	specs := []struct {
		tag   tag.Tag
		value interface{}
	}{
		{tag.TransferSyntaxUID, []string{t.transferSyntax}},
		{tag.SOPClassUID, []string{sopClass}},
		{tag.SOPInstanceUID, []string{sopInstanceUID}},
		{tag.StudyDate, []string{study.StudyDate}},
		{tag.StudyTime, []string{study.StudyTime}},
		{tag.AccessionNumber, []string{patient.AccessionNumber}},
		{tag.Modality, []string{"OT"}},
		{tag.ConversionType, []string{"WSD"}},
		{tag.StudyDescription, []string{patient.StudyDescription}},
		{tag.PatientName, []string{patient.PatientName}},
		{tag.PatientID, []string{patient.PatientID}},
		{tag.PatientBirthDate, []string{birthDate}},
		{tag.PatientSex, []string{sex}},
		{tag.StudyInstanceUID, []string{study.StudyInstanceUID}},
		{tag.SeriesInstanceUID, []string{study.SeriesInstanceUID}},
		{tag.StudyID, []string{"1"}},
		{tag.SeriesNumber, []string{"1"}},
		{tag.InstanceNumber, []string{fmt.Sprintf("%d", capture.ID)}},
		{tag.SamplesPerPixel, []int{t.samplesPerPixel}},
		{tag.PhotometricInterpretation, []string{t.photometric}},
		{tag.Rows, []int{capture.Payload.Height}},
		{tag.Columns, []int{capture.Payload.Width}},
		{tag.BitsAllocated, []int{8}},
		{tag.BitsStored, []int{8}},
		{tag.HighBit, []int{7}},
		{tag.PixelRepresentation, []int{0}},
	}

	if capture.Kind == models.MediaVideo {
		specs = append(specs, struct {
			tag   tag.Tag
			value interface{}
		}{tag.NumberOfFrames, []string{fmt.Sprintf("%d", len(capture.Payload.Frames))}})
	}
	if t.samplesPerPixel > 1 {
		specs = append(specs, struct {
			tag   tag.Tag
			value interface{}
		}{tag.PlanarConfiguration, []int{0}})
	}

	elements := make([]*dicom.Element, 0, len(specs)+1)
	for _, s := range specs {
		elem, err := dicom.NewElement(s.tag, s.value)
		if err != nil {
			return nil, &models.EncodingError{
				Kind:   models.EncodingConformanceViolation,
				Detail: fmt.Sprintf("element %v: %v", s.tag, err),
			}
		}
		elements = append(elements, elem)
	}
	return elements, nil
}

func buildPixelData(payload models.Payload, t traits) (dicom.PixelDataInfo, error) {
	if t.encapsulated {
		frames := make([]*frame.Frame, len(payload.Frames))
		for i, data := range payload.Frames {
			frames[i] = &frame.Frame{
				Encapsulated:     true,
				EncapsulatedData: frame.EncapsulatedFrame{Data: data},
			}
		}
		return dicom.PixelDataInfo{IsEncapsulated: true, Frames: frames}, nil
	}

	frames := make([]*frame.Frame, len(payload.Frames))
	pixelsPerFrame := payload.Width * payload.Height
	for i, data := range payload.Frames {
		native := frame.NewNativeFrame[uint8](8, payload.Height, payload.Width, pixelsPerFrame, t.samplesPerPixel)
		copy(native.RawData, data)
		frames[i] = &frame.Frame{Encapsulated: false, NativeData: native}
	}
	return dicom.PixelDataInfo{Frames: frames}, nil
}

// requiredTags is the fixed conformance set every object must carry
var requiredTags = []tag.Tag{
	tag.PatientID,
	tag.PatientName,
	tag.PatientBirthDate,
	tag.PatientSex,
	tag.StudyInstanceUID,
	tag.StudyDate,
	tag.StudyDescription,
	tag.SeriesInstanceUID,
	tag.Modality,
	tag.SOPInstanceUID,
	tag.Rows,
	tag.Columns,
	tag.BitsAllocated,
	tag.BitsStored,
	tag.HighBit,
	tag.PixelRepresentation,
	tag.PixelData,
}

// verifyConformance checks the fixed required-tag set. A non-conformant
// object is never handed to the export queue.
func verifyConformance(ds dicom.Dataset) error {
	present := make(map[tag.Tag]bool, len(ds.Elements))
	for _, elem := range ds.Elements {
		present[elem.Tag] = true
	}
	for _, t := range requiredTags {
		if !present[t] {
			return &models.EncodingError{
				Kind:   models.EncodingConformanceViolation,
				Detail: fmt.Sprintf("missing required tag %v", t),
			}
		}
	}
	return nil
}
