package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type RetentionHandler struct {
	sweeper *services.RetentionSweeper
}

func NewRetentionHandler(sweeper *services.RetentionSweeper) *RetentionHandler {
	return &RetentionHandler{sweeper: sweeper}
}

// Sweep runs one retention pass and returns its summary. Row-level failures
// are reported in the summary, not as an error status.
func (h *RetentionHandler) Sweep(c *fiber.Ctx) error {
	summary, err := h.sweeper.Run(c.UserContext())
	if err != nil {
		if errors.Is(err, services.ErrSweepInProgress) {
			return errorJSON(c, fiber.StatusConflict, err.Error())
		}
		slog.Error("retention sweep failed", "error", err)
		capture(c, err)
		return errorJSON(c, fiber.StatusInternalServerError, services.MsgInternal)
	}
	return c.JSON(summary)
}
