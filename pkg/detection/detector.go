// Package detection normalizes object detector backends into a single
// contract and enforces that at most one inference runs at a time.
//
// Backends:
//   - Remote posts the frame to a detector service (/detect) and returns its
//     detections, description and optional narrated-audio URL.
//   - yolo.Detector (subpackage) runs a YOLOv8 ONNX model in process.
//   - Mock returns scripted results for tests.
package detection

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-cane/pkg/frame"
)

// Detector is the interface for detection backends.
type Detector interface {
	// Detect runs inference on one frame. Boxes are in source-frame pixels.
	Detect(ctx context.Context, s frame.Sample) (*Result, error)

	// Close releases resources.
	Close() error
}

// Adapter wraps a backend, tagging each result with its frame and refusing
// overlapping requests.
type Adapter struct {
	backend  Detector
	logger   *slog.Logger
	inFlight atomic.Bool
}

// NewAdapter wraps backend. A nil logger uses slog.Default.
func NewAdapter(backend Detector, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend: backend,
		logger:  logger.With("component", "detection.adapter"),
	}
}

// Detect runs the backend on s. It returns ErrBusy without calling the
// backend if another request is outstanding, and wraps backend failures in
// *DetectionError.
func (a *Adapter) Detect(ctx context.Context, s frame.Sample) (*Result, error) {
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer a.inFlight.Store(false)

	if len(s.Image) == 0 {
		return nil, &DetectionError{FrameID: s.ID, Err: ErrEmptyFrame}
	}

	start := time.Now()
	res, err := a.backend.Detect(ctx, s)
	if err != nil {
		return nil, &DetectionError{FrameID: s.ID, Err: err}
	}
	if res == nil {
		res = &Result{}
	}

	res.FrameID = s.ID
	res.FrameTime = s.CapturedAt
	if res.Width == 0 || res.Height == 0 {
		res.Width, res.Height = s.Width, s.Height
	}
	if res.Description == "" {
		res.Description = Describe(res.Detections)
	}
	res.Latency = time.Since(start)

	a.logger.Debug("detection complete",
		"frame_id", s.ID,
		"objects", len(res.Detections),
		"latency_ms", res.Latency.Milliseconds(),
	)
	return res, nil
}

// InFlight reports whether a request is outstanding.
func (a *Adapter) InFlight() bool {
	return a.inFlight.Load()
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}
