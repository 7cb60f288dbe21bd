package frame

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-cane/internal/httpc"
)

// Config holds frame source configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// BaseURL of the acquisition service (trigger, snapshot, test image).
	BaseURL string

	// SettleDelay is the wait between triggering a capture and fetching it.
	SettleDelay time.Duration

	// ImagePath is a local fallback image for the static source.
	ImagePath string

	// StreamURL is the websocket endpoint for the stream source, or the
	// HTTP endpoint for the MJPEG source.
	StreamURL string

	// ReconnectDelay is the minimum gap between stream redials.
	ReconnectDelay time.Duration

	Client *http.Client
	Logger *slog.Logger

	// Now is the clock used for fallback capture times.
	Now func() time.Time
}

// Option is a functional option for configuring frame sources.
type Option func(*Config)

// WithBaseURL sets the acquisition service base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithSettleDelay sets the delay between trigger and snapshot.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithImagePath sets a local image for the static source.
func WithImagePath(path string) Option {
	return func(c *Config) {
		c.ImagePath = path
	}
}

// WithStreamURL sets the endpoint for the stream and MJPEG sources.
func WithStreamURL(url string) Option {
	return func(c *Config) {
		c.StreamURL = url
	}
}

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.Client = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		SettleDelay:    500 * time.Millisecond,
		ReconnectDelay: 2 * time.Second,
		Client:         httpc.Client,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
