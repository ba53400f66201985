package models

import (
	"time"
)

// MediaKind distinguishes photo and video captures
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// PixelFormat declares the encoding of a capture's frame buffers. The
// capture pipeline is responsible for delivering a supported format.
type PixelFormat string

const (
	PixelRGB8  PixelFormat = "rgb8"  // interleaved 8-bit RGB
	PixelGray8 PixelFormat = "gray8" // 8-bit grayscale
	PixelJPEG  PixelFormat = "jpeg"  // pre-encoded JPEG baseline
)

// ExportState tracks a capture through the export pipeline. Transitions
// only move forward except failed -> pending on manual retry.
type ExportState string

const (
	ExportPending   ExportState = "pending"
	ExportExporting ExportState = "exporting"
	ExportExported  ExportState = "exported"
	ExportFailed    ExportState = "failed"
)

// Payload holds the raw frame data of one capture. Photos carry a single
// frame; videos carry one buffer per sampled frame.
type Payload struct {
	Frames [][]byte
	Format PixelFormat
	Width  int
	Height int
}

// Capture is one photo or video produced during a session. The payload is
// owned exclusively by the capture store until handed to the encoder.
type Capture struct {
	ID        int64         `json:"id"` // monotonic, session-scoped
	Kind      MediaKind     `json:"kind"`
	Payload   Payload       `json:"-"`
	Duration  time.Duration `json:"duration,omitempty"` // video only
	CreatedAt time.Time     `json:"created_at"`
	State     ExportState   `json:"state"`
	LastError string        `json:"last_error,omitempty"`
}
