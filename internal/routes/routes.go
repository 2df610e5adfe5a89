package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	repHandler *handlers.RepHandler,
	accessHandler *handlers.AccessHandler,
	retentionHandler *handlers.RetentionHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)
	api.Get("/scenarios", repHandler.ListScenarios)

	// Beta requests are anonymous: 10 req/min per IP
	api.Post("/beta-requests", limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}), accessHandler.RequestAccess)

	// Job invocation (JWT required)
	api.Post("/process-rep-audio", middleware.JWTProtected(cfg), repHandler.ProcessJob)

	reps := api.Group("/reps", middleware.JWTProtected(cfg))
	reps.Post("/", repHandler.Create)
	reps.Get("/", repHandler.List)
	reps.Get("/:id", repHandler.Get)
	reps.Post("/:id/audio", repHandler.UploadAudio)
	reps.Post("/:id/process", repHandler.Process)
	reps.Get("/:id/audio-url", repHandler.AudioURL)

	// Batch endpoints (service role key, no user identity)
	admin := api.Group("/admin", middleware.ServiceRoleRequired(cfg))
	admin.Post("/retention/sweep", retentionHandler.Sweep)
	admin.Post("/beta-whitelist", accessHandler.Grant)
}
