package pipeline

import (
	"log/slog"
	"time"
)

// Config holds loop configuration.
type Config struct {
	// PollInterval is the frame polling cadence.
	PollInterval time.Duration

	// CycleDelay is the pause between a completed detection cycle and the next.
	CycleDelay time.Duration

	// HistorySize is how many applied results are kept.
	HistorySize int

	Logger *slog.Logger

	// Now is the clock used for alerts and FPS.
	Now func() time.Time

	// OnStatus is called from the loop after every state change.
	OnStatus func(Status)

	// OnError is called from the loop for every reported error.
	OnError func(error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		HistorySize:  50,
		Logger:       slog.Default(),
		Now:          time.Now,
	}
}

// Option configures the loop.
type Option func(*Config)

// WithPollInterval sets the polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithCycleDelay sets the gap between detection cycles.
func WithCycleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.CycleDelay = d
	}
}

// WithHistorySize sets how many results are kept.
func WithHistorySize(n int) Option {
	return func(c *Config) {
		c.HistorySize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithOnStatus registers a status hook.
func WithOnStatus(fn func(Status)) Option {
	return func(c *Config) {
		c.OnStatus = fn
	}
}

// WithOnError registers an error hook.
func WithOnError(fn func(error)) Option {
	return func(c *Config) {
		c.OnError = fn
	}
}
