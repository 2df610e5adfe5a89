package handlers

import (
	"context"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(dto.JobErrorResponse{Error: msg})
}

// requestContext carries the request's Sentry hub so spans started below attach to it.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		ctx = sentry.SetHubOnContext(ctx, hub)
	}
	return ctx
}

func capture(c *fiber.Ctx, err error) {
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
}

// captureJob reports a failed job, tagged by whether storage or a provider caused it.
func captureJob(c *fiber.Ctx, je *services.JobError) {
	hub := sentryfiber.GetHubFromContext(c)
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("upstream", strconv.FormatBool(je.IsUpstream()))
		hub.CaptureException(je)
	})
}
