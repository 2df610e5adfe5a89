package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scenario is static reference data a rep is recorded against.
type Scenario struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Slug      string    `gorm:"size:100;not null;uniqueIndex" json:"slug"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

func (Scenario) TableName() string {
	return "scenarios"
}

func (s *Scenario) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
