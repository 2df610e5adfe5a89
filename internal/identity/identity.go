// Package identity turns verified bearer-token claims into a caller identity.
// Tokens are issued by the external auth service; the JWT middleware has
// already checked signature and expiry by the time these helpers run.
package identity

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// LocalsKey is where the JWT middleware stores the parsed token.
const LocalsKey = "user"

var ErrNoIdentity = errors.New("no verified identity")

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID uuid.UUID
	Email  string
}

// FromClaims extracts the caller from verified token claims. The email is normalized.
func FromClaims(claims jwt.MapClaims) (Caller, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Caller{}, ErrNoIdentity
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Caller{}, ErrNoIdentity
	}
	email, _ := claims["email"].(string)
	return Caller{UserID: userID, Email: models.NormalizeEmail(email)}, nil
}

// FromFiber extracts the caller from the token left in Locals by the JWT middleware.
func FromFiber(c *fiber.Ctx) (Caller, error) {
	token, ok := c.Locals(LocalsKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return Caller{}, ErrNoIdentity
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Caller{}, ErrNoIdentity
	}
	return FromClaims(claims)
}
