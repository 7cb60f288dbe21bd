package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/teslashibe/go-cane/pkg/frame"
)

// Op is one recorded drawing call.
type Op struct {
	Kind  string
	Rect  image.Rectangle
	Point image.Point
	Text  string
	Color color.RGBA
}

// Recorder is a Canvas that records calls instead of drawing. Text is
// measured at a fixed 8x12 px per character.
type Recorder struct {
	W, H int

	mu     sync.Mutex
	ops    []Op
	closed bool
}

// NewRecorder creates a recording canvas.
func NewRecorder(w, h int) *Recorder {
	return &Recorder{W: w, H: h}
}

// Size returns the configured size.
func (r *Recorder) Size() (int, int) {
	return r.W, r.H
}

// DrawImage records the frame ID.
func (r *Recorder) DrawImage(s frame.Sample) error {
	r.record(Op{Kind: "image", Text: s.ID.String()})
	return nil
}

// StrokeRect records a box.
func (r *Recorder) StrokeRect(rect image.Rectangle, c color.RGBA, width int) error {
	r.record(Op{Kind: "rect", Rect: rect, Color: c})
	return nil
}

// FillRect records a filled rectangle.
func (r *Recorder) FillRect(rect image.Rectangle, c color.RGBA) error {
	r.record(Op{Kind: "fill", Rect: rect, Color: c})
	return nil
}

// TextSize returns 8 px per rune by 12 px.
func (r *Recorder) TextSize(text string) image.Point {
	return image.Pt(8*len([]rune(text)), 12)
}

// FillText records text.
func (r *Recorder) FillText(text string, org image.Point, c color.RGBA) error {
	r.record(Op{Kind: "text", Point: org, Text: text, Color: c})
	return nil
}

// Encode renders the op log as text.
func (r *Recorder) Encode() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, op := range r.ops {
		fmt.Fprintf(&b, "%s %v %q\n", op.Kind, op.Rect, op.Text)
	}
	return []byte(b.String()), nil
}

// Close marks the canvas released.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Ops returns the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recorder) record(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// Verify Recorder implements Canvas at compile time.
var _ Canvas = (*Recorder)(nil)
