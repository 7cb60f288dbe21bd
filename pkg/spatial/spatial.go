// Package spatial turns detection geometry into spoken navigation language:
// a coarse distance bucket from the box's share of the frame and a direction
// from the box's horizontal center.
package spatial

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-cane/pkg/detection"
)

// Distance is a coarse proximity bucket.
type Distance string

const (
	VeryClose Distance = "very close"
	Close     Distance = "close"
	Medium    Distance = "medium distance"
	Far       Distance = "far"
)

// Position is the horizontal direction of an object relative to the wearer.
type Position string

const (
	Left  Position = "left"
	Ahead Position = "ahead"
	Right Position = "right"
)

// Description is the spatial summary of one detection.
type Description struct {
	Label    string
	Distance Distance
	Position Position
}

// Config holds the estimator thresholds.
type Config struct {
	// Area ratios (box area / frame area) for the distance buckets.
	// Strictly above VeryCloseRatio is very close; Close and Medium are inclusive.
	VeryCloseRatio float64
	CloseRatio     float64
	MediumRatio    float64

	// Fractions of the frame's half-width. A center left of LeftFactor*mid is
	// left, right of RightFactor*mid is right.
	LeftFactor  float64
	RightFactor float64

	// Alert eligibility.
	MinConfidence float64
	MinArea       float64
}

// Option is a functional option for configuring an Estimator.
type Option func(*Config)

// WithEligibility overrides the confidence and pixel-area gates for alerts.
func WithEligibility(minConfidence, minArea float64) Option {
	return func(c *Config) {
		c.MinConfidence = minConfidence
		c.MinArea = minArea
	}
}

// WithDistanceRatios overrides the distance bucket boundaries.
func WithDistanceRatios(veryClose, close, medium float64) Option {
	return func(c *Config) {
		c.VeryCloseRatio = veryClose
		c.CloseRatio = close
		c.MediumRatio = medium
	}
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		VeryCloseRatio: 0.30,
		CloseRatio:     0.15,
		MediumRatio:    0.05,
		LeftFactor:     0.4,
		RightFactor:    1.6,
		MinConfidence:  0.6,
		MinArea:        10000,
	}
}

// Estimator applies a Config. The zero value is not usable; call New.
type Estimator struct {
	cfg Config
}

// New creates an Estimator with the default thresholds and any overrides.
func New(opts ...Option) *Estimator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Estimator{cfg: cfg}
}

// Config returns the thresholds in use.
func (e *Estimator) Config() Config {
	return e.cfg
}

// DistanceOf buckets a box by its share of a width x height frame.
func (e *Estimator) DistanceOf(box detection.BBox, width, height int) Distance {
	frameArea := float64(width) * float64(height)
	if frameArea <= 0 {
		return Far
	}
	p := box.Area() / frameArea
	switch {
	case p > e.cfg.VeryCloseRatio:
		return VeryClose
	case p >= e.cfg.CloseRatio:
		return Close
	case p >= e.cfg.MediumRatio:
		return Medium
	default:
		return Far
	}
}

// PositionOf places a box left, ahead or right within a frame of the given width.
func (e *Estimator) PositionOf(box detection.BBox, width int) Position {
	cx, _ := box.Center()
	mid := float64(width) / 2
	switch {
	case cx < e.cfg.LeftFactor*mid:
		return Left
	case cx > e.cfg.RightFactor*mid:
		return Right
	default:
		return Ahead
	}
}

// Describe computes the spatial description of d.
func (e *Estimator) Describe(d detection.Detection, width, height int) Description {
	return Description{
		Label:    d.Label,
		Distance: e.DistanceOf(d.Box, width, height),
		Position: e.PositionOf(d.Box, width),
	}
}

// Eligible reports whether d is confident and large enough to be spoken.
// Ineligible detections are still drawn.
func (e *Estimator) Eligible(d detection.Detection) bool {
	return d.Confidence > e.cfg.MinConfidence && d.Box.Area() >= e.cfg.MinArea
}

// Phrase renders a description as an utterance, e.g. "person ahead, close"
// or "chair on your left, far".
func Phrase(d Description) string {
	label := strings.TrimSpace(d.Label)
	if label == "" {
		label = "object"
	}
	switch d.Position {
	case Left, Right:
		return fmt.Sprintf("%s on your %s, %s", label, d.Position, d.Distance)
	default:
		return fmt.Sprintf("%s ahead, %s", label, d.Distance)
	}
}

var defaultEstimator = New()

// DistanceOf buckets a box using the default thresholds.
func DistanceOf(box detection.BBox, width, height int) Distance {
	return defaultEstimator.DistanceOf(box, width, height)
}

// PositionOf places a box using the default thresholds.
func PositionOf(box detection.BBox, width int) Position {
	return defaultEstimator.PositionOf(box, width)
}

// Eligible applies the default alert gates.
func Eligible(d detection.Detection) bool {
	return defaultEstimator.Eligible(d)
}
