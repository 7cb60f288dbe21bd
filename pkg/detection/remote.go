package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-cane/pkg/frame"
)

// remoteResponse is the detector service's /detect payload.
type remoteResponse struct {
	Status      string      `json:"status"`
	Detections  []Detection `json:"detections"`
	Description string      `json:"description"`
	ImageURL    string      `json:"image_url"`
	AudioURL    string      `json:"audio_url"`
	Count       int         `json:"count"`
}

// Remote sends frames to a detector service as multipart uploads.
type Remote struct {
	config    *Config
	logger    *slog.Logger
	base      *url.URL
	detectURL string
}

// NewRemote creates a detector backed by {BaseURL}/detect.
func NewRemote(opts ...Option) (*Remote, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("detection: parse base URL: %w", err)
	}

	return &Remote{
		config:    cfg,
		logger:    cfg.Logger.With("component", "detection.remote"),
		base:      base,
		detectURL: base.ResolveReference(&url.URL{Path: "detect"}).String(),
	}, nil
}

// Detect uploads the frame in a multipart "file" field.
func (r *Remote) Detect(ctx context.Context, s frame.Sample) (*Result, error) {
	body, contentType, err := multipartImage(s.Image)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	resp, err := r.doWithRetry(ctx, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Status != "" && payload.Status != "success" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "status " + payload.Status}
	}

	r.logger.Debug("remote detection",
		"frame_id", s.ID,
		"objects", len(payload.Detections),
		"audio", payload.AudioURL != "",
	)

	return &Result{
		Width:             s.Width,
		Height:            s.Height,
		Detections:        payload.Detections,
		Description:       payload.Description,
		AudioURL:          r.resolve(payload.AudioURL),
		AnnotatedImageURL: r.resolve(payload.ImageURL),
	}, nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.config.Client.CloseIdleConnections()
	return nil
}

// resolve turns service-relative URLs ("/api/ai/detected_audio.mp3") into
// absolute ones against the detector base URL.
func (r *Remote) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return r.base.ResolveReference(u).String()
}

// doWithRetry performs the upload with retry logic.
func (r *Remote) doWithRetry(ctx context.Context, body []byte, contentType string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.detectURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := r.config.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		r.logger.Warn("retrying detection",
			"attempt", attempt+1,
			"status", resp.StatusCode,
		)
	}

	return nil, lastErr
}

// parseError reads a FastAPI-style {"detail": "..."} error body.
func parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail string `json:"detail"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail != "" {
		message = errResp.Detail
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func multipartImage(img []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="snapshot.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Verify Remote implements Detector at compile time.
var _ Detector = (*Remote)(nil)
