// Package cane wires the frame source, detector, alerts, speech, overlay and
// dashboard into one running application.
package cane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-cane/internal/config"
	"github.com/teslashibe/go-cane/pkg/alert"
	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/detection/yolo"
	"github.com/teslashibe/go-cane/pkg/frame"
	"github.com/teslashibe/go-cane/pkg/overlay"
	"github.com/teslashibe/go-cane/pkg/overlay/cvsurface"
	"github.com/teslashibe/go-cane/pkg/pipeline"
	"github.com/teslashibe/go-cane/pkg/spatial"
	"github.com/teslashibe/go-cane/pkg/speech"
	"github.com/teslashibe/go-cane/pkg/speech/rtpsink"
	"github.com/teslashibe/go-cane/pkg/tts"
	"github.com/teslashibe/go-cane/pkg/web"
)

// App is the main application orchestrator.
// It owns every component and their lifecycle.
type App struct {
	config *config.Config
	logger *slog.Logger

	source    frame.Source
	detector  *detection.Adapter
	speaker   *speech.Speaker
	throttler *alert.Throttler
	pipeline  *pipeline.Pipeline
	webServer *web.Server
}

// New creates an application for cfg. Nothing is connected until Init.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("cane: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		config: cfg,
		logger: logger.With("component", "app"),
	}, nil
}

// Init builds all components.
// Call this after New() and before Run().
func (a *App) Init(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	source, err := newSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("frame source: %w", err)
	}
	a.source = source
	logger.Info("frame source ready", "mode", cfg.SourceMode)

	backend, err := newDetector(cfg, logger)
	if err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	a.detector = detection.NewAdapter(backend, logger)
	logger.Info("detector ready", "mode", cfg.DetectorMode)

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	sink, err := newSink(cfg, logger)
	if err != nil {
		if provider != nil {
			provider.Close()
		}
		return fmt.Errorf("audio sink: %w", err)
	}
	opts := []speech.Option{
		speech.WithLogger(logger),
		speech.WithOnError(func(err error) {
			logger.Warn("speech failed", "error", err)
		}),
	}
	if provider != nil {
		opts = append(opts, speech.WithProvider(provider))
	}
	a.speaker = speech.NewSpeaker(sink, opts...)
	logger.Info("speech ready", "tts", cfg.TTSProvider, "sink", sink.Name())

	estimator := spatial.New(spatial.WithEligibility(cfg.MinConfidence, cfg.MinArea))
	a.throttler = alert.NewThrottler(a.speaker,
		alert.WithCooldown(cfg.Cooldown),
		alert.WithLogger(logger),
		alert.WithOnAlert(a.publishAlert),
	)
	narrator := alert.NewSelector(estimator, alert.Mode(cfg.Narration))

	presenter := overlay.NewPresenter(
		overlay.NewRenderer(overlay.DefaultStyle()),
		cvsurface.New,
		a.publishFrame,
		overlay.WithPresenterLogger(logger),
	)

	// Statuses only flow after a command, and commands need the dashboard.
	a.pipeline = pipeline.New(pipeline.Components{
		Source:   a.source,
		Detector: a.detector,
		Alerter:  a.throttler,
		Narrator: narrator,
		Display:  presenter,
		Audio:    a.speaker,
	},
		pipeline.WithPollInterval(cfg.PollInterval),
		pipeline.WithCycleDelay(cfg.CycleDelay),
		pipeline.WithHistorySize(cfg.HistorySize),
		pipeline.WithLogger(logger),
		pipeline.WithOnStatus(a.publishStatus),
	)
	a.webServer = web.NewServer(a.pipeline, cfg.HTTPPort, logger)

	return nil
}

// Run serves the dashboard and applies the auto-start settings.
// Blocks until ctx is cancelled or the dashboard fails.
func (a *App) Run(ctx context.Context) error {
	if a.pipeline == nil {
		return errors.New("cane: Init must be called before Run")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.webServer.Start(ctx)
	}()

	if a.config.AutoStart {
		if err := a.pipeline.Start(); err != nil {
			return fmt.Errorf("auto start: %w", err)
		}
		if a.config.AutoDetect {
			if err := a.pipeline.EnableDetection(); err != nil {
				return fmt.Errorf("auto detect: %w", err)
			}
		}
	}
	a.logger.Info("cane running", "auto_start", a.config.AutoStart, "auto_detect", a.config.AutoDetect)

	select {
	case <-ctx.Done():
		return nil
	case <-a.pipeline.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	}
}

// Shutdown stops the loop first so nothing is in flight while the
// collaborators close.
func (a *App) Shutdown() {
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.webServer != nil {
		if err := a.webServer.Shutdown(); err != nil {
			a.logger.Debug("dashboard shutdown", "error", err)
		}
	}
	if a.speaker != nil {
		if err := a.speaker.Close(); err != nil {
			a.logger.Warn("speaker close", "error", err)
		}
	}
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.logger.Warn("detector close", "error", err)
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.logger.Warn("frame source close", "error", err)
		}
	}
	a.logger.Info("goodbye")
}

// Pipeline exposes the detection loop.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

func (a *App) publishStatus(st pipeline.Status) {
	if a.webServer != nil {
		a.webServer.PublishStatus(st)
	}
}

func (a *App) publishAlert(al alert.Alert) {
	if a.webServer != nil {
		a.webServer.PublishAlert(al)
	}
}

func (a *App) publishFrame(jpeg []byte) {
	if a.webServer != nil {
		a.webServer.PublishFrame(jpeg)
	}
}

func newSource(cfg *config.Config, logger *slog.Logger) (frame.Source, error) {
	switch cfg.SourceMode {
	case config.SourceStatic:
		opts := []frame.Option{frame.WithLogger(logger)}
		if cfg.StaticImage != "" {
			opts = append(opts, frame.WithImagePath(cfg.StaticImage))
		} else {
			opts = append(opts, frame.WithBaseURL(cfg.CameraURL))
		}
		return frame.NewStatic(opts...)
	case config.SourceStream:
		return frame.NewStream(
			frame.WithStreamURL(cfg.StreamURL),
			frame.WithLogger(logger),
		)
	case config.SourceMJPEG:
		return frame.NewMJPEG(
			frame.WithStreamURL(cfg.MJPEGURL),
			frame.WithLogger(logger),
		)
	default:
		return frame.NewTriggered(
			frame.WithBaseURL(cfg.CameraURL),
			frame.WithSettleDelay(cfg.SettleDelay),
			frame.WithLogger(logger),
		)
	}
}

func newDetector(cfg *config.Config, logger *slog.Logger) (detection.Detector, error) {
	if cfg.DetectorMode == config.DetectorLocal {
		ycfg := yolo.DefaultConfig()
		ycfg.ModelPath = cfg.ModelPath
		ycfg.Logger = logger
		return yolo.New(ycfg)
	}
	return detection.NewRemote(
		detection.WithBaseURL(cfg.DetectorURL),
		detection.WithLogger(logger),
	)
}

// newProvider returns the configured provider, with the other provider as a
// fallback when its key is present. A nil provider means text-only alerts.
func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	if cfg.TTSProvider == config.TTSNone {
		return nil, nil
	}

	order := []string{config.TTSOpenAI, config.TTSGoogle}
	if cfg.TTSProvider == config.TTSGoogle {
		order = []string{config.TTSGoogle, config.TTSOpenAI}
	}

	var providers []tts.Provider
	for i, name := range order {
		p, err := newNamedProvider(ctx, name, cfg, logger, i == 0)
		if err != nil {
			if i == 0 {
				logger.Warn("primary tts unavailable", "provider", name, "error", err)
			}
			continue
		}
		if p != nil {
			providers = append(providers, p)
		}
	}

	chain, err := tts.NewChain(logger, providers...)
	if errors.Is(err, tts.ErrProviderUnavailable) {
		logger.Warn("no tts provider configured, alerts will be logged only")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func newNamedProvider(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger, primary bool) (tts.Provider, error) {
	opts := []tts.Option{tts.WithLogger(logger)}
	if primary && cfg.Voice != "" {
		opts = append(opts, tts.WithVoice(cfg.Voice))
	}
	switch name {
	case config.TTSOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return tts.NewOpenAI(append(opts, tts.WithAPIKey(cfg.OpenAIAPIKey))...)
	case config.TTSGoogle:
		// Google also works from application default credentials, so only
		// the configured primary is tried without a key.
		if cfg.GoogleAPIKey == "" && !primary {
			return nil, nil
		}
		if cfg.GoogleAPIKey != "" {
			opts = append(opts, tts.WithAPIKey(cfg.GoogleAPIKey))
		}
		return tts.NewGoogle(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

func newSink(cfg *config.Config, logger *slog.Logger) (speech.Sink, error) {
	if cfg.AudioSink == config.SinkRTP {
		return rtpsink.New(rtpsink.Config{Addr: cfg.RTPAddr, Logger: logger})
	}
	return speech.NewExecSink(cfg.AudioCommand), nil
}
