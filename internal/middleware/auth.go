package middleware

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

// JWTProtected verifies the bearer token against the shared identity secret.
// Missing, malformed or expired tokens stop the request with 401 and nothing else runs.
func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{JWTAlg: jwtware.HS256, Key: []byte(cfg.JWTSecret)},
		ContextKey: identity.LocalsKey,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			msg := "Invalid or expired token"
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				msg = "Missing or invalid Authorization"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(dto.JobErrorResponse{Error: msg})
		},
	})
}
