package detection

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions.
var (
	// ErrBusy is returned when a detection request is already in flight.
	ErrBusy = errors.New("detection: request already in flight")

	// ErrNoBaseURL is returned when the remote detector has no endpoint.
	ErrNoBaseURL = errors.New("detection: base URL required")

	// ErrEmptyFrame is returned when a frame carries no image bytes.
	ErrEmptyFrame = errors.New("detection: empty frame")
)

// APIError represents a non-success response from the detector service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error detail returned by the service.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("detection: API error %d: %s", e.StatusCode, e.Message)
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request may succeed when repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.IsServerError()
}

// DetectionError reports a failed inference for one frame. It is
// recoverable: the caller keeps its previous results.
type DetectionError struct {
	FrameID uuid.UUID
	Err     error
}

// Error implements the error interface.
func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed for frame %s: %v", e.FrameID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectionError) Unwrap() error {
	return e.Err
}
