package overlay

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
)

// Canvas is a Surface that can be encoded and released.
type Canvas interface {
	Surface

	// Encode returns the surface as JPEG.
	Encode() ([]byte, error)

	Close() error
}

// CanvasFunc creates a canvas of the given size.
type CanvasFunc func(w, h int) (Canvas, error)

// Presenter renders frames onto a fresh canvas and hands the encoded image
// to a sink, typically the dashboard frame hub.
type Presenter struct {
	renderer  *Renderer
	newCanvas CanvasFunc
	sink      func([]byte)
	width     int
	height    int
	logger    *slog.Logger
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithDisplaySize fixes the output size. By default the source size is used.
func WithDisplaySize(w, h int) PresenterOption {
	return func(p *Presenter) {
		p.width, p.height = w, h
	}
}

// WithPresenterLogger sets the logger.
func WithPresenterLogger(l *slog.Logger) PresenterOption {
	return func(p *Presenter) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPresenter creates a presenter.
func NewPresenter(r *Renderer, newCanvas CanvasFunc, sink func([]byte), opts ...PresenterOption) *Presenter {
	p := &Presenter{
		renderer:  r,
		newCanvas: newCanvas,
		sink:      sink,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "overlay.presenter")
	return p
}

// Present shows sample with dets drawn over it. A raw frame at source size
// is forwarded as-is.
func (p *Presenter) Present(sample frame.Sample, dets []detection.Detection) error {
	if sample.IsZero() {
		return nil
	}
	if len(dets) == 0 && p.width == 0 {
		p.sink(sample.Image)
		return nil
	}

	w, h := p.width, p.height
	if w == 0 || h == 0 {
		w, h = sample.Width, sample.Height
	}

	canvas, err := p.newCanvas(w, h)
	if err != nil {
		return fmt.Errorf("create canvas: %w", err)
	}
	defer canvas.Close()

	if err := p.renderer.Render(canvas, sample, dets); err != nil {
		return err
	}
	out, err := canvas.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	p.logger.Debug("presented", "frame", sample.ID, "detections", len(dets), "bytes", len(out))
	p.sink(out)
	return nil
}
