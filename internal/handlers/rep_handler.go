package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type RepHandler struct {
	processor *services.RepProcessor
	reps      *services.RepService
}

func NewRepHandler(processor *services.RepProcessor, reps *services.RepService) *RepHandler {
	return &RepHandler{processor: processor, reps: reps}
}

// ProcessJob is the job invocation endpoint: body {"rep_id": "..."}.
func (h *RepHandler) ProcessJob(c *fiber.Ctx) error {
	var req dto.ProcessRepRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid JSON body")
	}
	return h.process(c, req.RepID)
}

// Process runs the same job with the rep id taken from the path.
func (h *RepHandler) Process(c *fiber.Ctx) error {
	return h.process(c, c.Params("id"))
}

func (h *RepHandler) process(c *fiber.Ctx, repID string) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	if err := h.processor.Process(requestContext(c), caller, repID); err != nil {
		var je *services.JobError
		if errors.As(err, &je) {
			if je.Status >= fiber.StatusInternalServerError {
				captureJob(c, je)
			}
			return errorJSON(c, je.Status, je.Message)
		}
		capture(c, err)
		return errorJSON(c, fiber.StatusInternalServerError, services.MsgInternal)
	}
	return c.JSON(dto.OKResponse{OK: true})
}

func (h *RepHandler) Create(c *fiber.Ctx) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	var req dto.CreateRepRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	rep, err := h.reps.Create(c.UserContext(), caller, req.ScenarioID)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreateRepResponse{ID: rep.ID.String(), Status: rep.Status})
}

// UploadAudio accepts multipart form data: "audio" file and optional "duration_secs".
func (h *RepHandler) UploadAudio(c *fiber.Ctx) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "audio file is required")
	}

	var duration *float64
	if raw := strings.TrimSpace(c.FormValue("duration_secs")); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, services.ErrInvalidDuration.Error())
		}
		duration = &d
	}

	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "could not read audio file")
	}
	defer f.Close()

	mime := fh.Header.Get(fiber.HeaderContentType)
	rep, err := h.reps.UploadAudio(c.UserContext(), caller, c.Params("id"), f, mime, duration)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(rep)
}

func (h *RepHandler) Get(c *fiber.Ctx) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	rep, feedback, err := h.reps.Get(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.RepDetailResponse{Rep: *rep, Feedback: feedback})
}

func (h *RepHandler) List(c *fiber.Ctx) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	page, limit = services.Paginate(page, limit)

	reps, total, err := h.reps.List(c.UserContext(), caller, page, limit)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"data":  reps,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *RepHandler) AudioURL(c *fiber.Ctx) error {
	caller, err := identity.FromFiber(c)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
	}

	url, err := h.reps.AudioURL(c.UserContext(), caller, c.Params("id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(dto.AudioURLResponse{URL: url, ExpiresIn: int(h.reps.SignedURLTTL().Seconds())})
}

func (h *RepHandler) ListScenarios(c *fiber.Ctx) error {
	scenarios, err := h.reps.ListScenarios(c.UserContext())
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(fiber.Map{"data": scenarios})
}

func (h *RepHandler) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrRepNotFound):
		return errorJSON(c, fiber.StatusNotFound, services.MsgRepNotFound)
	case errors.Is(err, services.ErrScenarioNotFound):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidDuration):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrAudioAlreadyUploaded):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrAudioUnavailable):
		return errorJSON(c, fiber.StatusGone, err.Error())
	}
	slog.Error("rep request failed", "path", c.Path(), "error", err)
	capture(c, err)
	return errorJSON(c, fiber.StatusInternalServerError, services.MsgInternal)
}
