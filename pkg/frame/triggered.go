package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-cane/internal/httpc"
)

// CaptureTimeHeader carries the capture instant on snapshot responses.
const CaptureTimeHeader = "capture-time"

// maxImageBytes caps a single snapshot body.
const maxImageBytes = 16 << 20

// Triggered asks the camera to capture, waits for it to settle and then
// fetches the snapshot.
type Triggered struct {
	config *Config
	logger *slog.Logger
}

// NewTriggered creates a trigger-and-fetch source. A base URL is required.
func NewTriggered(opts ...Option) (*Triggered, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.BaseURL == "" {
		return nil, errors.New("frame: base URL required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Triggered{
		config: cfg,
		logger: cfg.Logger.With("component", "frame.triggered"),
	}, nil
}

// Poll triggers one capture and returns the resulting snapshot.
func (t *Triggered) Poll(ctx context.Context) (Sample, error) {
	if err := t.trigger(ctx); err != nil {
		return Sample{}, err
	}

	if d := t.config.SettleDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Sample{}, ctx.Err()
		case <-timer.C:
		}
	}

	return t.snapshot(ctx)
}

// Close releases idle connections.
func (t *Triggered) Close() error {
	t.config.Client.CloseIdleConnections()
	return nil
}

func (t *Triggered) trigger(ctx context.Context) error {
	url := t.config.BaseURL + "/trigger-capture"
	resp, err := httpc.Post(ctx, t.config.Client, url, "", nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &AcquisitionError{Op: "trigger", URL: url, Err: err}
	}
	defer httpc.Drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AcquisitionError{Op: "trigger", URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *Triggered) snapshot(ctx context.Context) (Sample, error) {
	fetchedAt := t.config.Now()
	url := fmt.Sprintf("%s/snapshot?t=%d", t.config.BaseURL, fetchedAt.UnixMilli())

	resp, err := httpc.Get(ctx, t.config.Client, url)
	if err != nil {
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		return Sample{}, &AcquisitionError{Op: "snapshot", URL: url, Err: err}
	}
	defer httpc.Drain(resp)

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotModified:
		return Sample{}, ErrNoNewFrame
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Sample{}, &AcquisitionError{Op: "snapshot", URL: url, StatusCode: resp.StatusCode}
	}

	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Sample{}, &AcquisitionError{Op: "snapshot", URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(img) == 0 {
		return Sample{}, ErrNoNewFrame
	}

	capturedAt := ParseCaptureTime(resp.Header.Get(CaptureTimeHeader), fetchedAt)
	s, err := NewSample(img, capturedAt)
	if err != nil {
		return Sample{}, &AcquisitionError{Op: "snapshot", URL: url, Err: err}
	}

	t.logger.Debug("snapshot fetched",
		"frame_id", s.ID,
		"bytes", len(img),
		"captured_at", capturedAt,
	)
	return s, nil
}

// ParseCaptureTime reads a capture-time header value. Integers of 11 or more
// digits are unix milliseconds, smaller integers and decimals are unix
// seconds, and RFC 3339 strings are parsed as such. Anything else yields
// fallback.
func ParseCaptureTime(v string, fallback time.Time) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		if n >= 1e11 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9))
	}
	if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return ts
	}
	return fallback
}

// Verify Triggered implements Source at compile time.
var _ Source = (*Triggered)(nil)
