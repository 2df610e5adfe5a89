package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
)

// ServiceRoleRequired guards batch endpoints that run without a per-user identity.
// The caller must present the service role key as a bearer token. An unset key
// disables the endpoints entirely.
func ServiceRoleRequired(cfg *config.Config) fiber.Handler {
	expected := []byte(cfg.ServiceRoleKey)

	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			return c.Status(fiber.StatusNotFound).JSON(dto.JobErrorResponse{Error: "Not found"})
		}

		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.JobErrorResponse{Error: "Unauthorized"})
		}
		return c.Next()
	}
}
