package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BetaWhitelist is the processing allow-list, keyed by normalized email.
type BetaWhitelist struct {
	Email     string    `gorm:"size:255;primaryKey" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (BetaWhitelist) TableName() string {
	return "beta_whitelist"
}

func (b *BetaWhitelist) BeforeSave(tx *gorm.DB) error {
	b.Email = NormalizeEmail(b.Email)
	return nil
}

// BetaRequest records a request-access submission.
type BetaRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (BetaRequest) TableName() string {
	return "beta_requests"
}

func (b *BetaRequest) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// NormalizeEmail trims and lowercases an address for allow-list comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
