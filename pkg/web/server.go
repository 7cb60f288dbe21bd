// Package web serves the control dashboard: HTTP actions that drive the
// detection loop and websocket feeds for status, alerts and annotated frames.
package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cane/pkg/alert"
	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/hub"
	"github.com/teslashibe/go-cane/pkg/pipeline"
)

// Controller is the loop the dashboard drives. *pipeline.Pipeline
// satisfies it.
type Controller interface {
	Start() error
	Stop() error
	EnableDetection() error
	DisableDetection() error
	Capture() error
	PlayAudio() error

	Status() pipeline.Status
	History() []detection.Result
	Latest() (detection.Result, bool)
}

// Server is the dashboard server
type Server struct {
	app    *fiber.App
	port   string
	ctrl   Controller
	logger *slog.Logger

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	alertHub  *hub.Hub
	frameHub  *hub.Hub

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewServer creates the dashboard for ctrl listening on port.
func NewServer(ctrl Controller, port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:      port,
		ctrl:      ctrl,
		logger:    logger.With("component", "web"),
		statusHub: hub.New("status", logger),
		alertHub:  hub.New("alerts", logger),
		frameHub:  hub.New("frames", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Cane Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Get("/detections", s.handleDetections)
	api.Get("/detections/latest", s.handleLatest)
	api.Post("/start", s.action(ctrl.Start))
	api.Post("/stop", s.action(ctrl.Stop))
	api.Post("/detection/enable", s.action(ctrl.EnableDetection))
	api.Post("/detection/disable", s.action(ctrl.DisableDetection))
	api.Post("/capture", s.action(ctrl.Capture))
	api.Post("/audio/play", s.action(ctrl.PlayAudio))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/alerts", websocket.New(s.handleAlertsWS))
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.statusHub.Run(ctx)
	go s.alertHub.Run(ctx)
	go s.frameHub.Run(ctx)

	s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the listener and disconnects websocket clients.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.app.Shutdown()
}

// PublishStatus sends a status snapshot to /ws/status clients.
func (s *Server) PublishStatus(st pipeline.Status) {
	if err := s.statusHub.BroadcastJSON(st); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
}

// PublishAlert sends a spoken alert to /ws/alerts clients.
func (s *Server) PublishAlert(a alert.Alert) {
	if err := s.alertHub.BroadcastJSON(a); err != nil {
		s.logger.Warn("encode alert", "error", err)
	}
}

// PublishFrame sends an encoded frame to /ws/frames clients.
func (s *Server) PublishFrame(jpeg []byte) {
	s.frameHub.BroadcastFrame(jpeg)
}
