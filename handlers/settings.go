package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

type settingsView struct {
	EnableLongURLDetection bool `json:"enable_long_url_detection"`
}

// GetSettings returns the current system settings.
func (s *Server) GetSettings(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	settings, err := s.settings.Get(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "settings unavailable")
	}
	return c.JSON(settingsView{EnableLongURLDetection: settings.EnableLongURLDetection})
}

// UpdateSettings persists new settings; the change applies to the very next
// classified message.
func (s *Server) UpdateSettings(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	var req settingsView
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "malformed body")
	}

	settings, err := s.settings.Update(c.Context(), req.EnableLongURLDetection)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "settings not saved")
	}
	return c.JSON(settingsView{EnableLongURLDetection: settings.EnableLongURLDetection})
}

// Redetect re-runs detection over every tracked message in the background.
func (s *Server) Redetect(c *fiber.Ctx) error {
	if _, err := s.principal(c); err != nil {
		return unauthorized(c)
	}

	ids, err := s.store.AllTrackedMessageIDs(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "redetect not scheduled")
	}
	if err := s.store.ResetDetectionStatus(c.Context(), ids); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "redetect not scheduled")
	}

	err = s.runner.Schedule("redetect-all", func(ctx context.Context) {
		s.pipeline.RunBatch(ctx, ids)
	})
	if err != nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "redetect not scheduled")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scheduled", "total": len(ids)})
}
