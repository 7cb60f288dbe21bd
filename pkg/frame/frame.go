// Package frame acquires camera frames for the detection loop.
//
// A Source yields Samples on demand. Four sources are provided: Triggered
// (trigger a capture, wait, fetch the snapshot), Static (a fixed test image
// with fresh timestamps), Stream (the latest JPEG pushed over a websocket)
// and MJPEG (the latest part of a multipart/x-mixed-replace HTTP stream).
// Sources do not de-duplicate; the consumer runs every Sample through a Deduper.
package frame

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source produces frames on demand.
type Source interface {
	// Poll returns the newest available frame, or ErrNoNewFrame when there
	// is nothing new. Transport failures are returned as *AcquisitionError.
	Poll(ctx context.Context) (Sample, error)

	// Close releases connections held by the source.
	Close() error
}

// Sample is one captured frame. It is owned by a single detection cycle and
// released once a newer frame supersedes it.
type Sample struct {
	ID         uuid.UUID
	Image      []byte
	CapturedAt time.Time
	Width      int
	Height     int
}

// NewSample wraps encoded image bytes, reading the dimensions from the
// image header.
func NewSample(img []byte, capturedAt time.Time) (Sample, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return Sample{}, fmt.Errorf("decode image header: %w", err)
	}
	return Sample{
		ID:         uuid.New(),
		Image:      img,
		CapturedAt: capturedAt,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}

// IsZero reports whether s holds no frame.
func (s Sample) IsZero() bool {
	return s.ID == uuid.Nil
}

// NewerThan reports whether s was captured strictly after t.
func (s Sample) NewerThan(t time.Time) bool {
	return s.CapturedAt.After(t)
}

// Release drops the image buffer.
func (s *Sample) Release() {
	s.Image = nil
}

// Deduper accepts only frames strictly newer than the last consumed one.
type Deduper struct {
	mu   sync.Mutex
	last time.Time
}

// Accept records t and returns true if it is strictly newer than every
// previously accepted timestamp.
func (d *Deduper) Accept(t time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !t.After(d.last) {
		return false
	}
	d.last = t
	return true
}

// Reset forgets the last accepted timestamp.
func (d *Deduper) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}

// mailbox is a single slot for pushed frames. A put overwrites a frame that
// was never taken.
type mailbox struct {
	mu    sync.Mutex
	img   []byte
	at    time.Time
	fresh bool
}

func (m *mailbox) put(img []byte, at time.Time) {
	m.mu.Lock()
	m.img, m.at, m.fresh = img, at, true
	m.mu.Unlock()
}

// take empties the slot. ok is false when nothing arrived since the last take.
func (m *mailbox) take() (img []byte, at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fresh {
		return nil, time.Time{}, false
	}
	img, at = m.img, m.at
	m.img, m.fresh = nil, false
	return img, at, true
}

func (m *mailbox) clear() {
	m.mu.Lock()
	m.img, m.fresh = nil, false
	m.mu.Unlock()
}

// monotonicClock hands out strictly increasing timestamps even when the
// wall clock returns the same instant twice.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *monotonicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
