package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", &TransientError{Err: errors.New("connection reset")}, true},
		{"wrapped transient", fmt.Errorf("upload failed: %w", &TransientError{Err: errors.New("timeout")}), true},
		{"protocol rejection", &ProtocolRejectionError{Code: 7, Reason: "called AE not recognized"}, false},
		{"encoding", &EncodingError{Kind: EncodingMissingRequiredField, Detail: "patient id"}, false},
		{"validation", &ValidationError{Field: "patient_id", Reason: "empty"}, false},
		{"plain error", errors.New("unknown"), false},
		{"nil-ish sentinel", ErrNoActiveSession, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsRetryable(c.err); got != c.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestValidationErrorUnwrapsToInvalidContext(t *testing.T) {
	err := &ValidationError{Field: "patient_name", Reason: "empty"}
	if !errors.Is(err, ErrInvalidContext) {
		t.Error("ValidationError should unwrap to ErrInvalidContext")
	}
}
