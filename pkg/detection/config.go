package detection

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-cane/internal/httpc"
)

// Config holds remote detector configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// BaseURL of the detector service; /detect is appended.
	BaseURL string

	// Timeout bounds a single detection request.
	Timeout time.Duration

	// Retry configuration. Only 429 and 5xx responses are retried.
	MaxRetries int
	RetryDelay time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// Option is a functional option for configuring detectors.
type Option func(*Config)

// WithBaseURL sets the detector service URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetry configures retry behavior for failed requests.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
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

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    15 * time.Second,
		MaxRetries: 0,
		RetryDelay: 200 * time.Millisecond,
		Client:     httpc.Client,
		Logger:     slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	return nil
}
