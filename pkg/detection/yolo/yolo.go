// Package yolo runs a YOLOv8 ONNX model in process through OpenCV DNN.
// It is the local backend for detection.Adapter: no network hop, boxes in
// source-frame pixels.
package yolo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
	"gocv.io/x/gocv"
)

// Config holds YOLO detector configuration.
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
	Logger           *slog.Logger
}

// DefaultConfig returns production defaults for YOLOv8n.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
		Logger:           slog.Default(),
	}
}

// Detector wraps a loaded network. Inference is serialized.
type Detector struct {
	net       gocv.Net
	config    Config
	logger    *slog.Logger
	mu        sync.Mutex
	inputSize image.Point
}

// New loads the ONNX model at cfg.ModelPath.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Detector{
		net:       net,
		config:    cfg,
		logger:    cfg.Logger.With("component", "detection.yolo"),
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect decodes the frame and runs one forward pass. Inference itself
// cannot be interrupted; ctx is checked before it starts.
func (d *Detector) Detect(ctx context.Context, s frame.Sample) (*detection.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(s.Image, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW, imgH := img.Cols(), img.Rows()
	lb := newLetterbox(imgW, imgH, d.config.InputWidth, d.config.InputHeight)

	input := gocv.NewMatWithSize(d.config.InputHeight, d.config.InputWidth, gocv.MatTypeCV8UC3)
	defer input.Close()
	input.SetTo(gocv.NewScalar(114, 114, 114, 0))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(lb.w, lb.h), 0, 0, gocv.InterpolationLinear)

	content := input.Region(image.Rect(lb.left, lb.top, lb.left+lb.w, lb.top+lb.h))
	defer content.Close()
	resized.CopyTo(&content)

	blob := gocv.BlobFromImage(input, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	// YOLOv8 output is [1, 84, 8400]: 4 box values + 80 class scores per candidate.
	cands := decodeOutput(data, output.Size(), lb, d.config)
	dets := d.suppress(cands)

	if len(dets) > 0 {
		d.logger.Debug("objects found", "count", len(dets), "frame_id", s.ID)
	}

	return &detection.Result{
		Width:      imgW,
		Height:     imgH,
		Detections: dets,
	}, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// candidate is one pre-NMS box in pixel corner form.
type candidate struct {
	box     image.Rectangle
	score   float32
	classID int
}

// letterbox is the aspect-preserving fit of a frame into the model input:
// scaled to w x h and centered, with padding on the short side.
type letterbox struct {
	scale     float32
	w, h      int
	left, top int
}

func newLetterbox(imgW, imgH, inW, inH int) letterbox {
	scale := min(float32(inW)/float32(imgW), float32(inH)/float32(imgH))
	w := min(inW, max(1, int(float32(imgW)*scale+0.5)))
	h := min(inH, max(1, int(float32(imgH)*scale+0.5)))
	return letterbox{
		scale: scale,
		w:     w,
		h:     h,
		left:  (inW - w) / 2,
		top:   (inH - h) / 2,
	}
}

// toSource maps a model-space point back to source pixels.
func (lb letterbox) toSource(x, y float32) (int, int) {
	return int((x - float32(lb.left)) / lb.scale), int((y - float32(lb.top)) / lb.scale)
}

// decodeOutput parses a [1, 4+classes, anchors] tensor, keeping candidates
// at or above the confidence threshold and mapping them to source pixels.
func decodeOutput(data []float32, shape []int, lb letterbox, cfg Config) []candidate {
	if len(shape) != 3 {
		return nil
	}
	cols, rows := shape[1], shape[2] // 84, 8400
	if cols <= 4 || len(data) < cols*rows {
		return nil
	}

	var out []candidate
	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < cfg.ConfidenceThresh {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x0, y0 := lb.toSource(cx-w/2, cy-h/2)
		x1, y1 := lb.toSource(cx+w/2, cy+h/2)
		out = append(out, candidate{
			box:     image.Rect(x0, y0, x1, y1),
			score:   maxScore,
			classID: maxClassID,
		})
	}
	return out
}

func (d *Detector) suppress(cands []candidate) []detection.Detection {
	if len(cands) == 0 {
		return nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)

	dets := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, toDetection(cands[idx]))
	}
	return dets
}

func toDetection(c candidate) detection.Detection {
	return detection.Detection{
		Label:      ClassName(c.classID),
		Confidence: float64(c.score),
		Box: detection.BBox{
			X: float64(c.box.Min.X),
			Y: float64(c.box.Min.Y),
			W: float64(c.box.Dx()),
			H: float64(c.box.Dy()),
		},
	}
}

// ClassName maps a COCO class ID to its name.
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "object"
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// Verify Detector implements detection.Detector at compile time.
var _ detection.Detector = (*Detector)(nil)
