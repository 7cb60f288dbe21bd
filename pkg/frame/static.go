package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/teslashibe/go-cane/internal/httpc"
)

// Static returns the same test image on every poll with a fresh, strictly
// increasing timestamp. The image is read from a local file when configured,
// otherwise fetched once from {base}/test-image and cached.
type Static struct {
	config *Config
	logger *slog.Logger
	clock  *monotonicClock

	mu  sync.Mutex
	img []byte
}

// NewStatic creates a test-image source. Either an image path or a base URL
// is required.
func NewStatic(opts ...Option) (*Static, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.ImagePath == "" && cfg.BaseURL == "" {
		return nil, errors.New("frame: image path or base URL required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Static{
		config: cfg,
		logger: cfg.Logger.With("component", "frame.static"),
		clock:  &monotonicClock{now: cfg.Now},
	}, nil
}

// Poll returns the cached test image. A failed load is retried next poll.
func (s *Static) Poll(ctx context.Context) (Sample, error) {
	img, err := s.load(ctx)
	if err != nil {
		return Sample{}, err
	}
	return NewSample(img, s.clock.Next())
}

// Close drops the cached image.
func (s *Static) Close() error {
	s.mu.Lock()
	s.img = nil
	s.mu.Unlock()
	return nil
}

func (s *Static) load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img != nil {
		return s.img, nil
	}

	var (
		img []byte
		err error
	)
	if s.config.ImagePath != "" {
		img, err = os.ReadFile(s.config.ImagePath)
		if err != nil {
			return nil, &AcquisitionError{Op: "test-image", URL: s.config.ImagePath, Err: err}
		}
	} else {
		img, err = s.fetch(ctx)
		if err != nil {
			return nil, err
		}
	}

	if _, err := NewSample(img, s.config.Now()); err != nil {
		return nil, &AcquisitionError{Op: "test-image", URL: s.source(), Err: err}
	}

	s.logger.Info("test image loaded", "source", s.source(), "bytes", len(img))
	s.img = img
	return img, nil
}

func (s *Static) fetch(ctx context.Context) ([]byte, error) {
	url := s.config.BaseURL + "/test-image"
	resp, err := httpc.Get(ctx, s.config.Client, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AcquisitionError{Op: "test-image", URL: url, Err: err}
	}
	defer httpc.Drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AcquisitionError{Op: "test-image", URL: url, StatusCode: resp.StatusCode}
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &AcquisitionError{Op: "test-image", URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return img, nil
}

func (s *Static) source() string {
	if s.config.ImagePath != "" {
		return s.config.ImagePath
	}
	return s.config.BaseURL + "/test-image"
}

// Verify Static implements Source at compile time.
var _ Source = (*Static)(nil)
