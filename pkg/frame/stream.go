package frame

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream keeps a websocket open to a camera that pushes binary JPEG frames
// and hands out only the most recent one. Frames that arrive between polls
// overwrite each other; they are never queued.
type Stream struct {
	config *Config
	logger *slog.Logger
	dialer websocket.Dialer
	clock  *monotonicClock

	mu       sync.Mutex
	conn     *websocket.Conn
	lastDial time.Time
	closed   bool

	box mailbox
}

// NewStream creates a push-stream source. The connection is opened lazily on
// the first poll and redialed after it drops.
func NewStream(opts ...Option) (*Stream, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.StreamURL == "" {
		return nil, errors.New("frame: stream URL required")
	}

	return &Stream{
		config: cfg,
		logger: cfg.Logger.With("component", "frame.stream"),
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		clock: &monotonicClock{now: cfg.Now},
	}, nil
}

// Poll returns the newest unconsumed frame.
func (s *Stream) Poll(ctx context.Context) (Sample, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return Sample{}, err
	}

	img, at, ok := s.box.take()
	if !ok {
		return Sample{}, ErrNoNewFrame
	}

	sample, err := NewSample(img, at)
	if err != nil {
		return Sample{}, &AcquisitionError{Op: "stream", URL: s.config.StreamURL, Err: err}
	}
	return sample, nil
}

// Close shuts the connection. Further polls return ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.box.clear()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Stream) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	if !s.lastDial.IsZero() && s.config.Now().Sub(s.lastDial) < s.config.ReconnectDelay {
		s.mu.Unlock()
		return ErrNoNewFrame
	}
	s.lastDial = s.config.Now()
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.config.StreamURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &AcquisitionError{Op: "stream", URL: s.config.StreamURL, Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("stream connected", "url", s.config.StreamURL)
	go s.readLoop(conn)
	return nil
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()
			if !closed {
				s.logger.Warn("stream disconnected", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		s.box.put(data, s.clock.Next())
	}
}

// Verify Stream implements Source at compile time.
var _ Source = (*Stream)(nil)
