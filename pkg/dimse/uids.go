package dimse

// DICOM Application Context UID (DICOM PS3.8)
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// SOP Class UIDs negotiated by this client (DICOM PS3.4 Annex B)
const (
	VerificationSOPClass = "1.2.840.10008.1.1"

	SecondaryCaptureImageStorage                    = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameTrueColorSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.3"

	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"
)

// Transfer Syntax UIDs
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	JPEGBaseline           = "1.2.840.10008.1.2.4.50"
)

// Implementation identification sent in the User Information item
const (
	implementationClassUID    = "1.2.826.0.1.3680043.9.7433.2.1"
	implementationVersionName = "CAPTURE_GW_1"
)

// DefaultTransferSyntaxes is the ordered preference list proposed for each
// presentation context. Explicit little endian is preferred over implicit.
var DefaultTransferSyntaxes = []string{
	ExplicitVRLittleEndian,
	ImplicitVRLittleEndian,
}
