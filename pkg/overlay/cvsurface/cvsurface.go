// Package cvsurface implements overlay.Canvas on an OpenCV Mat.
package cvsurface

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-cane/pkg/frame"
	"github.com/teslashibe/go-cane/pkg/overlay"
)

const (
	font      = gocv.FontHersheySimplex
	fontScale = 0.6
	textWidth = 2
)

// Surface is a BGR raster of fixed size.
type Surface struct {
	mat  gocv.Mat
	w, h int
}

// New allocates a black w x h surface.
func New(w, h int) (overlay.Canvas, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("cvsurface: invalid size %dx%d", w, h)
	}
	return &Surface{
		mat: gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3),
		w:   w,
		h:   h,
	}, nil
}

// Size returns the surface dimensions.
func (s *Surface) Size() (int, int) {
	return s.w, s.h
}

// DrawImage decodes the sample and resizes it onto the surface.
func (s *Surface) DrawImage(sample frame.Sample) error {
	img, err := gocv.IMDecode(sample.Image, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("decode: empty image")
	}

	if img.Cols() == s.w && img.Rows() == s.h {
		return img.CopyTo(&s.mat)
	}
	return gocv.Resize(img, &s.mat, image.Pt(s.w, s.h), 0, 0, gocv.InterpolationLinear)
}

// StrokeRect outlines r.
func (s *Surface) StrokeRect(r image.Rectangle, c color.RGBA, width int) error {
	return gocv.Rectangle(&s.mat, r, c, width)
}

// FillRect fills r.
func (s *Surface) FillRect(r image.Rectangle, c color.RGBA) error {
	return gocv.Rectangle(&s.mat, r, c, -1)
}

// TextSize measures text in the overlay font.
func (s *Surface) TextSize(text string) image.Point {
	return gocv.GetTextSize(text, font, fontScale, textWidth)
}

// FillText draws text with its baseline at org.
func (s *Surface) FillText(text string, org image.Point, c color.RGBA) error {
	return gocv.PutText(&s.mat, text, org, font, fontScale, c, textWidth)
}

// Encode returns the surface as JPEG.
func (s *Surface) Encode() ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close frees the Mat.
func (s *Surface) Close() error {
	return s.mat.Close()
}

// Verify Surface implements overlay.Canvas at compile time.
var _ overlay.Canvas = (*Surface)(nil)
