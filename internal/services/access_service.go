package services

import (
	"context"
	"errors"
	"net/mail"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessService answers the beta allow-list question and records access requests.
type AccessService struct {
	db *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// IsEntitled reports whether email is on the allow-list. Comparison is on the
// normalized address; an empty email is never entitled.
func (s *AccessService) IsEntitled(ctx context.Context, email string) (bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	var entry models.BetaWhitelist
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Grant adds email to the allow-list. Granting twice is a no-op.
func (s *AccessService) Grant(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if email == "" {
		return ErrInvalidEmail
	}
	entry := models.BetaWhitelist{Email: email}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&entry).Error
}

// RequestAccess stores a request-access submission. Repeats are accepted silently.
func (s *AccessService) RequestAccess(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return ErrInvalidEmail
	}
	req := models.BetaRequest{Email: email}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&req).Error
}
