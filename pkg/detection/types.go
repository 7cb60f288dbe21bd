package detection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BBox is an axis-aligned box in source-frame pixels, top-left origin.
type BBox struct {
	X, Y float64
	W, H float64
}

// Center returns the center point of the box.
func (b BBox) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Detection is a single labeled object found in a frame.
type Detection struct {
	Label      string
	Confidence float64
	Box        BBox
}

// wireDetection is the detector service shape: bbox is [x, y, w, h].
// Local model output names confidence "score".
type wireDetection struct {
	Class      string    `json:"class"`
	Confidence *float64  `json:"confidence,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	BBox       []float64 `json:"bbox"`
}

// MarshalJSON encodes d as {"class", "confidence", "bbox": [x, y, w, h]}.
func (d Detection) MarshalJSON() ([]byte, error) {
	conf := d.Confidence
	return json.Marshal(wireDetection{
		Class:      d.Label,
		Confidence: &conf,
		BBox:       []float64{d.Box.X, d.Box.Y, d.Box.W, d.Box.H},
	})
}

// UnmarshalJSON accepts either "confidence" or "score".
func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.BBox) != 4 {
		return fmt.Errorf("detection: bbox must have 4 values, got %d", len(w.BBox))
	}
	d.Label = w.Class
	switch {
	case w.Confidence != nil:
		d.Confidence = *w.Confidence
	case w.Score != nil:
		d.Confidence = *w.Score
	default:
		d.Confidence = 0
	}
	d.Box = BBox{X: w.BBox[0], Y: w.BBox[1], W: w.BBox[2], H: w.BBox[3]}
	return nil
}

// Result is the normalized output of one detection request, tagged with the
// identity of the frame it was computed from.
type Result struct {
	FrameID   uuid.UUID `json:"frame_id"`
	FrameTime time.Time `json:"frame_time"`

	// Source dimensions the boxes are expressed in.
	Width  int `json:"width"`
	Height int `json:"height"`

	Detections  []Detection `json:"detections"`
	Description string      `json:"description"`

	// Optional narrated audio and annotated image produced by the detector service.
	AudioURL          string `json:"audio_url,omitempty"`
	AnnotatedImageURL string `json:"image_url,omitempty"`

	Latency time.Duration `json:"latency_ns"`
}

// Clone returns a copy whose detection slice is not shared with r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Detections = append([]Detection(nil), r.Detections...)
	return &c
}
