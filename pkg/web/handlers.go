package web

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/hub"
	"github.com/teslashibe/go-cane/pkg/pipeline"
	"github.com/teslashibe/go-cane/pkg/speech"
)

// ErrorResponse is returned for every failed action.
type ErrorResponse struct {
	Error  string          `json:"error"`
	Status pipeline.Status `json:"status"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

func (s *Server) handleDetections(c *fiber.Ctx) error {
	history := s.ctrl.History()
	if history == nil {
		history = []detection.Result{}
	}
	return c.JSON(history)
}

func (s *Server) handleLatest(c *fiber.Ctx) error {
	latest, ok := s.ctrl.Latest()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no detections yet"})
	}
	return c.JSON(latest)
}

// action adapts a loop action to a handler that answers with the new status.
func (s *Server) action(fn func() error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := fn(); err != nil {
			s.logger.Debug("action failed", "path", c.Path(), "error", err)
			return c.Status(statusCode(err)).JSON(ErrorResponse{
				Error:  err.Error(),
				Status: s.ctrl.Status(),
			})
		}
		return c.JSON(s.ctrl.Status())
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, speech.ErrNoAudio):
		return fiber.StatusNotFound
	case errors.Is(err, pipeline.ErrClosed), errors.Is(err, speech.ErrClosed), errors.Is(err, speech.ErrNoPlayer):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// handleStatusWS sends the current status, then every change.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	data, err := json.Marshal(s.ctrl.Status())
	if err != nil {
		s.logger.Warn("encode status", "error", err)
		return
	}
	s.serve(s.statusHub, conn, hub.JSON(data))
}

func (s *Server) handleAlertsWS(conn *websocket.Conn) {
	s.serve(s.alertHub, conn)
}

func (s *Server) handleFramesWS(conn *websocket.Conn) {
	s.serve(s.frameHub, conn)
}

func (s *Server) serve(h *hub.Hub, conn *websocket.Conn, initial ...hub.Message) {
	client := hub.NewClient(h, conn, initial...)
	if client == nil {
		return
	}
	client.Run()
}
