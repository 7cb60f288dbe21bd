// Package config loads go-cane runtime configuration from the environment.
// An optional .env file is read first; variables already set in the process
// environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Frame source modes.
const (
	SourceTriggered = "triggered"
	SourceStatic    = "static"
	SourceStream    = "stream"
	SourceMJPEG     = "mjpeg"
)

// Detector backends.
const (
	DetectorRemote = "remote"
	DetectorLocal  = "local"
)

// Speech providers and sinks.
const (
	TTSOpenAI = "openai"
	TTSGoogle = "google"
	TTSNone   = "none"

	SinkExec = "exec"
	SinkRTP  = "rtp"
)

// Narration modes.
const (
	NarrateSingle = "single"
	NarrateAll    = "all"
)

// Config is the full runtime configuration for cmd/cane.
type Config struct {
	// Frame source
	SourceMode  string
	CameraURL   string
	StaticImage string
	StreamURL   string
	MJPEGURL    string

	// Detector
	DetectorMode string
	DetectorURL  string
	ModelPath    string

	// Timing
	PollInterval time.Duration
	SettleDelay  time.Duration
	CycleDelay   time.Duration

	// Alerts
	Cooldown      time.Duration
	MinConfidence float64
	MinArea       float64
	Narration     string

	// Speech
	TTSProvider  string
	OpenAIAPIKey string
	GoogleAPIKey string
	Voice        string
	AudioSink    string
	AudioCommand string
	RTPAddr      string

	// Dashboard
	HTTPPort    string
	HistorySize int
	AutoStart   bool
	AutoDetect  bool

	// Logging
	LogLevel   string
	Production bool
}

// Load reads envFile (if present) and then the process environment.
// A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		SourceMode:  strings.ToLower(getEnv("CANE_SOURCE_MODE", SourceTriggered)),
		CameraURL:   strings.TrimRight(getEnv("CANE_CAMERA_URL", "http://localhost:8000"), "/"),
		StaticImage: getEnv("CANE_STATIC_IMAGE", ""),
		StreamURL:   getEnv("CANE_STREAM_URL", "ws://localhost:8000/stream"),
		MJPEGURL:    getEnv("CANE_MJPEG_URL", ""),

		DetectorMode: strings.ToLower(getEnv("CANE_DETECTOR_MODE", DetectorRemote)),
		DetectorURL:  strings.TrimRight(getEnv("CANE_DETECTOR_URL", "http://localhost:8000"), "/"),
		ModelPath:    getEnv("CANE_MODEL_PATH", "models/yolov8n.onnx"),

		PollInterval: getEnvAsDuration("CANE_POLL_INTERVAL", 500*time.Millisecond),
		SettleDelay:  getEnvAsDuration("CANE_SETTLE_DELAY", 500*time.Millisecond),
		CycleDelay:   getEnvAsDuration("CANE_CYCLE_DELAY", 0),

		Cooldown:      getEnvAsDuration("CANE_COOLDOWN", 3*time.Second),
		MinConfidence: getEnvAsFloat("CANE_MIN_CONFIDENCE", 0.6),
		MinArea:       getEnvAsFloat("CANE_MIN_AREA", 10000),
		Narration:     strings.ToLower(getEnv("CANE_NARRATION", NarrateSingle)),

		TTSProvider:  strings.ToLower(getEnv("CANE_TTS_PROVIDER", TTSOpenAI)),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		GoogleAPIKey: getEnv("GOOGLE_API_KEY", ""),
		Voice:        getEnv("CANE_TTS_VOICE", ""),
		AudioSink:    strings.ToLower(getEnv("CANE_AUDIO_SINK", SinkExec)),
		AudioCommand: getEnv("CANE_AUDIO_CMD", "ffplay"),
		RTPAddr:      getEnv("CANE_RTP_ADDR", "127.0.0.1:5000"),

		HTTPPort:    getEnv("CANE_HTTP_PORT", "8080"),
		HistorySize: getEnvAsInt("CANE_HISTORY_SIZE", 50),
		AutoStart:   getEnvAsBool("CANE_AUTO_START", false),
		AutoDetect:  getEnvAsBool("CANE_AUTO_DETECT", false),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Production: os.Getenv("GO_ENV") == "production",
	}

	if cfg.MJPEGURL == "" {
		cfg.MJPEGURL = cfg.CameraURL + "/stream"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that enumerated settings hold known values.
func (c *Config) Validate() error {
	if err := oneOf("CANE_SOURCE_MODE", c.SourceMode, SourceTriggered, SourceStatic, SourceStream, SourceMJPEG); err != nil {
		return err
	}
	if c.SourceMode == SourceMJPEG && !strings.HasPrefix(c.MJPEGURL, "http://") && !strings.HasPrefix(c.MJPEGURL, "https://") {
		return fmt.Errorf("config: CANE_MJPEG_URL must be an http(s) URL, got %q", c.MJPEGURL)
	}
	if err := oneOf("CANE_DETECTOR_MODE", c.DetectorMode, DetectorRemote, DetectorLocal); err != nil {
		return err
	}
	if err := oneOf("CANE_NARRATION", c.Narration, NarrateSingle, NarrateAll); err != nil {
		return err
	}
	if err := oneOf("CANE_TTS_PROVIDER", c.TTSProvider, TTSOpenAI, TTSGoogle, TTSNone); err != nil {
		return err
	}
	if err := oneOf("CANE_AUDIO_SINK", c.AudioSink, SinkExec, SinkRTP); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: CANE_POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: CANE_MIN_CONFIDENCE must be within [0,1], got %v", c.MinConfidence)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s=%q, expected one of %s", key, value, strings.Join(allowed, "|"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("750ms") or bare milliseconds ("750").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
