package models

// DicomObject is the encoded result of one capture plus the session's
// patient context. Immutable after creation; ownership is detached from
// the source capture once built, so a deleted capture's export continues.
type DicomObject struct {
	CaptureID         int64
	SOPClassUID       string
	SOPInstanceUID    string
	StudyInstanceUID  string
	SeriesInstanceUID string
	TransferSyntaxUID string

	Rows            int
	Columns         int
	SamplesPerPixel int
	NumberOfFrames  int

	// Data is the fully serialized dataset (preamble, file meta, elements)
	Data []byte
}
