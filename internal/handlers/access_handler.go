package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type AccessHandler struct {
	access *services.AccessService
}

func NewAccessHandler(access *services.AccessService) *AccessHandler {
	return &AccessHandler{access: access}
}

// RequestAccess records a beta access request. Repeats are accepted silently.
func (h *AccessHandler) RequestAccess(c *fiber.Ctx) error {
	var req dto.BetaRequestBody
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.access.RequestAccess(c.UserContext(), req.Email); err != nil {
		if errors.Is(err, services.ErrInvalidEmail) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		slog.Error("beta request failed", "error", err)
		capture(c, err)
		return errorJSON(c, fiber.StatusInternalServerError, services.MsgInternal)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.OKResponse{OK: true})
}

// Grant adds an email to the processing allow-list.
func (h *AccessHandler) Grant(c *fiber.Ctx) error {
	var req dto.BetaRequestBody
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.access.Grant(c.UserContext(), req.Email); err != nil {
		if errors.Is(err, services.ErrInvalidEmail) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		slog.Error("allow-list grant failed", "error", err)
		capture(c, err)
		return errorJSON(c, fiber.StatusInternalServerError, services.MsgInternal)
	}
	return c.JSON(dto.OKResponse{OK: true})
}
