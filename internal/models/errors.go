package models

import (
	"errors"
	"fmt"
)

// Session lifecycle errors
var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionBusy     = errors.New("session busy")
	ErrInvalidContext  = errors.New("invalid patient context")
)

// ValidationError reports a bad or missing field in caller-supplied data.
// It is always surfaced synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidContext
}

// EncodingErrorKind categorizes DICOM encoding failures
type EncodingErrorKind string

const (
	EncodingMissingRequiredField EncodingErrorKind = "missing_required_field"
	EncodingUnsupportedPixelFmt  EncodingErrorKind = "unsupported_pixel_format"
	EncodingSizeLimitExceeded    EncodingErrorKind = "size_limit_exceeded"
	EncodingConformanceViolation EncodingErrorKind = "conformance_violation"
)

// EncodingError reports a DicomEncoder failure. The capture stays pending;
// the operator can retry after fixing the input.
type EncodingError struct {
	Kind   EncodingErrorKind
	Detail string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("dicom encoding failed (%s): %s", e.Kind, e.Detail)
}

// ProtocolRejectionError reports a DICOM-level rejection (association
// refused, dataset refused by the remote SCP). Terminal immediately:
// retrying a structurally bad request wastes the retry budget.
type ProtocolRejectionError struct {
	Code   uint16
	Reason string
}

func (e *ProtocolRejectionError) Error() string {
	return fmt.Sprintf("protocol rejection (code 0x%04x): %s", e.Code, e.Reason)
}

// TransientError wraps a network-class failure that the export queue may
// retry per policy (timeouts, connection resets, refused connections).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the export queue should retry the error.
// Retry policy is a pure function of the error kind.
func IsRetryable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var rejection *ProtocolRejectionError
	if errors.As(err, &rejection) {
		return false
	}
	var encoding *EncodingError
	if errors.As(err, &encoding) {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}
	return false
}
