// Package overlay draws detection boxes and labels on top of a frame.
//
// Rendering is pure: the Renderer reads detections and writes to a Surface,
// scaling box geometry from source-frame pixels to the surface size so what
// is drawn matches what is spoken.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
)

// Surface is a 2-D drawable target.
type Surface interface {
	// Size returns the surface dimensions in pixels.
	Size() (w, h int)

	// DrawImage decodes the sample and paints it scaled to fill the surface.
	DrawImage(s frame.Sample) error

	// StrokeRect outlines r.
	StrokeRect(r image.Rectangle, c color.RGBA, width int) error

	// FillRect fills r.
	FillRect(r image.Rectangle, c color.RGBA) error

	// TextSize returns the rendered width and height of text.
	TextSize(text string) image.Point

	// FillText draws text with its baseline starting at org.
	FillText(text string, org image.Point, c color.RGBA) error
}

// Style controls the look of annotations.
type Style struct {
	Box       color.RGBA
	Text      color.RGBA
	LineWidth int

	// Padding surrounds label text inside its tag.
	Padding int
}

// DefaultStyle draws purple boxes with white-on-purple tags.
func DefaultStyle() Style {
	purple := color.RGBA{R: 124, G: 58, B: 237, A: 255}
	return Style{
		Box:       purple,
		Text:      color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LineWidth: 3,
		Padding:   4,
	}
}

// Renderer draws frames with detection overlays.
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer with style.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Render paints the sample and then one box and tag per detection.
func (r *Renderer) Render(s Surface, sample frame.Sample, dets []detection.Detection) error {
	if err := s.DrawImage(sample); err != nil {
		return fmt.Errorf("draw frame: %w", err)
	}

	sw, sh := s.Size()
	srcW, srcH := sample.Width, sample.Height
	if srcW <= 0 || srcH <= 0 {
		srcW, srcH = sw, sh
	}
	sx := float64(sw) / float64(srcW)
	sy := float64(sh) / float64(srcH)

	for _, d := range dets {
		box := ScaleBox(d.Box, sx, sy)
		if err := s.StrokeRect(box, r.style.Box, r.style.LineWidth); err != nil {
			return fmt.Errorf("draw box: %w", err)
		}

		text := Label(d)
		ts := s.TextSize(text)
		tag := TagRect(box, ts, r.style.Padding)
		if err := s.FillRect(tag, r.style.Box); err != nil {
			return fmt.Errorf("draw tag: %w", err)
		}
		org := image.Pt(tag.Min.X+r.style.Padding, tag.Max.Y-r.style.Padding)
		if err := s.FillText(text, org, r.style.Text); err != nil {
			return fmt.Errorf("draw label: %w", err)
		}
	}
	return nil
}

// Label formats a detection tag, e.g. "person 87%".
func Label(d detection.Detection) string {
	name := d.Label
	if name == "" {
		name = "object"
	}
	return fmt.Sprintf("%s %.0f%%", name, d.Confidence*100)
}

// ScaleBox converts a source-pixel box to surface pixels.
func ScaleBox(b detection.BBox, sx, sy float64) image.Rectangle {
	x0 := int(b.X*sx + 0.5)
	y0 := int(b.Y*sy + 0.5)
	x1 := int((b.X+b.W)*sx + 0.5)
	y1 := int((b.Y+b.H)*sy + 0.5)
	return image.Rect(x0, y0, x1, y1)
}

// TagRect places a label tag of text size ts above box. The tag moves below
// the box when it would leave the top edge.
func TagRect(box image.Rectangle, ts image.Point, pad int) image.Rectangle {
	h := ts.Y + 2*pad
	w := ts.X + 2*pad
	top := box.Min.Y - h
	if top < 0 {
		top = box.Max.Y
	}
	return image.Rect(box.Min.X, top, box.Min.X+w, top+h)
}
