package detection

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-cane/pkg/frame"
)

// Mock implements Detector for testing and demos.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	// If nil, returns an empty result.
	DetectFunc func(ctx context.Context, s frame.Sample) (*Result, error)

	// Latency delays every Detect call; cancellation is honored.
	Latency time.Duration

	mu     sync.Mutex
	calls  []frame.Sample
	active int
	peak   int
	closed bool
}

// NewMock returns a mock that always reports dets.
func NewMock(dets ...Detection) *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, s frame.Sample) (*Result, error) {
			return &Result{Detections: append([]Detection(nil), dets...)}, nil
		},
	}
}

// Detect records the call and delegates to DetectFunc.
func (m *Mock) Detect(ctx context.Context, s frame.Sample) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, s)
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, s)
	}
	return &Result{}, nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// CallCount returns how many times Detect was invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the frames Detect was invoked with.
func (m *Mock) Calls() []frame.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]frame.Sample, len(m.calls))
	copy(out, m.calls)
	return out
}

// PeakConcurrency returns the largest number of simultaneous Detect calls seen.
func (m *Mock) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Verify Mock implements Detector at compile time.
var _ Detector = (*Mock)(nil)
