package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Rep status values. ready and failed are terminal.
const (
	RepStatusUploading  = "uploading"
	RepStatusProcessing = "processing"
	RepStatusReady      = "ready"
	RepStatusFailed     = "failed"
)

// Rep is one recorded practice attempt.
type Rep struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	ScenarioID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"scenario_id"`
	AudioPath      *string    `gorm:"size:512" json:"audio_path"`
	AudioDeletedAt *time.Time `gorm:"index" json:"audio_deleted_at"`
	DurationSecs   *float64   `json:"duration_secs"`
	Status         string     `gorm:"size:20;not null;default:'uploading';index" json:"status"`
	ErrorMessage   *string    `gorm:"size:255" json:"error_message"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
}

func (Rep) TableName() string {
	return "reps"
}

func (r *Rep) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// HasAudio reports whether a non-blank audio path is recorded.
func (r *Rep) HasAudio() bool {
	return r.AudioPath != nil && strings.TrimSpace(*r.AudioPath) != ""
}

// IsTerminal reports whether the rep reached ready or failed.
func (r *Rep) IsTerminal() bool {
	return r.Status == RepStatusReady || r.Status == RepStatusFailed
}

// RepFeedback is the scoring output attached to a ready rep. One row per rep.
type RepFeedback struct {
	RepID      uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"rep_id"`
	Transcript string                      `gorm:"type:text;not null;default:''" json:"transcript"`
	Bullets    datatypes.JSONSlice[string] `gorm:"not null" json:"bullets"`
	Coaching   string                      `gorm:"type:text;not null;default:''" json:"coaching"`
	Score      *float64                    `json:"score"`
	Raw        datatypes.JSONMap           `json:"raw"`
	CreatedAt  time.Time                   `json:"created_at"`
}

func (RepFeedback) TableName() string {
	return "rep_feedback"
}
