package frame

import (
	"errors"
	"fmt"
)

// ErrNoNewFrame is returned by Poll when no frame newer than the previous
// one is available. It is not a failure.
var ErrNoNewFrame = errors.New("frame: no new frame")

// ErrClosed is returned by Poll after Close.
var ErrClosed = errors.New("frame: source closed")

// AcquisitionError reports a failed capture or fetch. It is recoverable:
// the next poll retries.
type AcquisitionError struct {
	// Op is the failed step: "trigger", "snapshot", "test-image", "stream".
	Op string

	URL string

	// StatusCode is set when the collaborator answered with a non-2xx status.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("frame %s: %s returned status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("frame %s: %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
