package frame

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-cane/internal/httpc"
)

var errPartTooLarge = fmt.Errorf("frame: mjpeg part exceeds %d bytes", maxImageBytes)

// MJPEG reads a multipart/x-mixed-replace HTTP stream, the format most IP
// cameras serve, and hands out only the most recent part. Parts that arrive
// between polls overwrite each other.
type MJPEG struct {
	config *Config
	logger *slog.Logger
	client *http.Client
	clock  *monotonicClock

	ctx  context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	body     io.ReadCloser
	lastDial time.Time
	closed   bool

	box mailbox
}

// NewMJPEG creates an MJPEG source. The request is made lazily on the first
// poll and repeated after the stream ends.
func NewMJPEG(opts ...Option) (*MJPEG, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.StreamURL == "" {
		return nil, errors.New("frame: stream URL required")
	}

	ctx, stop := context.WithCancel(context.Background())
	return &MJPEG{
		config: cfg,
		logger: cfg.Logger.With("component", "frame.mjpeg"),
		// Same transport, no overall timeout: the response never ends.
		client: &http.Client{Transport: cfg.Client.Transport},
		clock:  &monotonicClock{now: cfg.Now},
		ctx:    ctx,
		stop:   stop,
	}, nil
}

// Poll returns the newest unconsumed part.
func (m *MJPEG) Poll(ctx context.Context) (Sample, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return Sample{}, err
	}

	img, at, ok := m.box.take()
	if !ok {
		return Sample{}, ErrNoNewFrame
	}
	sample, err := NewSample(img, at)
	if err != nil {
		return Sample{}, &AcquisitionError{Op: "mjpeg", URL: m.config.StreamURL, Err: err}
	}
	return sample, nil
}

// Close ends the stream. Further polls return ErrClosed.
func (m *MJPEG) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.box.clear()
	m.stop()
	if m.body == nil {
		return nil
	}
	err := m.body.Close()
	m.body = nil
	return err
}

func (m *MJPEG) ensureConnected(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.body != nil {
		m.mu.Unlock()
		return nil
	}
	if !m.lastDial.IsZero() && m.config.Now().Sub(m.lastDial) < m.config.ReconnectDelay {
		m.mu.Unlock()
		return ErrNoNewFrame
	}
	m.lastDial = m.config.Now()
	m.mu.Unlock()

	body, boundary, err := m.open(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		body.Close()
		return ErrClosed
	}
	m.body = body
	m.mu.Unlock()

	m.logger.Info("mjpeg connected", "url", m.config.StreamURL)
	go m.readLoop(body, boundary)
	return nil
}

// open requests the stream. The response lives on the source's context;
// ctx only bounds the wait for the headers.
func (m *MJPEG) open(ctx context.Context) (io.ReadCloser, string, error) {
	url := m.config.StreamURL
	reqCtx, cancel := context.WithCancel(m.ctx)
	stop := context.AfterFunc(ctx, cancel)

	resp, err := httpc.Get(reqCtx, m.client, url)
	if !stop() {
		if err == nil {
			resp.Body.Close()
		}
		cancel()
		return nil, "", ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, "", &AcquisitionError{Op: "mjpeg", URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		httpc.Drain(resp)
		cancel()
		return nil, "", &AcquisitionError{Op: "mjpeg", URL: url, StatusCode: resp.StatusCode}
	}

	boundary, err := partBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, "", &AcquisitionError{Op: "mjpeg", URL: url, Err: err}
	}
	return &streamBody{ReadCloser: resp.Body, cancel: cancel}, boundary, nil
}

func (m *MJPEG) readLoop(body io.ReadCloser, boundary string) {
	err := m.readParts(body, boundary)

	m.mu.Lock()
	closed := m.closed
	if m.body == body {
		m.body = nil
	}
	m.mu.Unlock()
	body.Close()
	if !closed {
		m.logger.Warn("mjpeg disconnected", "error", err)
	}
}

// readParts stores every part until the stream fails or ends. A part with a
// Content-Length is stored as soon as its bytes are in; one without is
// stored when the next delimiter shows up.
func (m *MJPEG) readParts(body io.Reader, boundary string) error {
	r := bufio.NewReaderSize(body, 64<<10)
	tp := textproto.NewReader(r)
	delim := []byte("--" + boundary)

	if _, err := readUntil(r, delim); err != nil {
		return err
	}
	for {
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return err
		}

		n, lerr := strconv.Atoi(hdr.Get("Content-Length"))
		if lerr == nil && n > 0 {
			if n > maxImageBytes {
				return errPartTooLarge
			}
			data := make([]byte, n)
			if _, err := io.ReadFull(r, data); err != nil {
				return err
			}
			m.store(hdr, data)
			if _, err := readUntil(r, delim); err != nil {
				return err
			}
			continue
		}

		data, err := readUntil(r, delim)
		m.store(hdr, data)
		if err != nil {
			return err
		}
	}
}

func (m *MJPEG) store(hdr textproto.MIMEHeader, data []byte) {
	if len(data) == 0 {
		return
	}
	if ct := hdr.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return
	}
	m.box.put(data, ParseCaptureTime(hdr.Get(CaptureTimeHeader), m.clock.Next()))
}

// partBoundary extracts the boundary of a multipart content type.
func partBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("content type %q is not multipart", mediaType)
	}
	// Some cameras repeat the delimiter dashes in the declared boundary.
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", errors.New("multipart boundary missing")
	}
	return boundary, nil
}

// readUntil returns the bytes before the next delimiter line, without the
// line break that belongs to the delimiter. The closing delimiter is
// reported as io.EOF.
func readUntil(r *bufio.Reader, delim []byte) ([]byte, error) {
	var buf []byte
	lineStart := true
	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			buf = append(buf, line...)
			if len(buf) > maxImageBytes {
				return nil, errPartTooLarge
			}
			lineStart = false
			continue
		}
		if err != nil {
			return nil, err
		}

		if lineStart && bytes.HasPrefix(line, delim) {
			switch rest := bytes.TrimSpace(line[len(delim):]); {
			case len(rest) == 0:
				return trimLineBreak(buf), nil
			case bytes.Equal(rest, []byte("--")):
				return trimLineBreak(buf), io.EOF
			}
		}
		buf = append(buf, line...)
		if len(buf) > maxImageBytes {
			return nil, errPartTooLarge
		}
		lineStart = true
	}
}

func trimLineBreak(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

// streamBody releases the request context with the body.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}

// Verify MJPEG implements Source at compile time.
var _ Source = (*MJPEG)(nil)
