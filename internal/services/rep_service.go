package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RepService covers the client-owned part of the rep lifecycle: creation,
// audio upload and reads.
type RepService struct {
	db           *gorm.DB
	blobs        storage.BlobStore
	signedURLTTL time.Duration
}

func NewRepService(db *gorm.DB, blobs storage.BlobStore, signedURLTTL time.Duration) *RepService {
	if signedURLTTL <= 0 {
		signedURLTTL = 60 * time.Second
	}
	return &RepService{db: db, blobs: blobs, signedURLTTL: signedURLTTL}
}

func (s *RepService) SignedURLTTL() time.Duration {
	return s.signedURLTTL
}

// Create inserts a rep in the uploading state.
func (s *RepService) Create(ctx context.Context, caller identity.Caller, scenarioID string) (*models.Rep, error) {
	sid, err := uuid.Parse(scenarioID)
	if err != nil {
		return nil, ErrScenarioNotFound
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Scenario{}).Where("id = ?", sid).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrScenarioNotFound
	}

	rep := models.Rep{
		UserID:     caller.UserID,
		ScenarioID: sid,
		Status:     models.RepStatusUploading,
	}
	if err := s.db.WithContext(ctx).Create(&rep).Error; err != nil {
		return nil, err
	}
	return &rep, nil
}

// UploadAudio stores the recording under {owner}/{rep}.{ext} and moves the rep
// to processing. Audio can be attached once, before the rep is terminal.
func (s *RepService) UploadAudio(ctx context.Context, caller identity.Caller, repID string, r io.Reader, mime string, durationSecs *float64) (*models.Rep, error) {
	if durationSecs != nil && (*durationSecs <= 0 || math.IsNaN(*durationSecs) || math.IsInf(*durationSecs, 0)) {
		return nil, ErrInvalidDuration
	}
	rep, err := s.owned(ctx, caller, repID)
	if err != nil {
		return nil, err
	}
	if rep.HasAudio() || rep.AudioDeletedAt != nil || rep.IsTerminal() {
		return nil, ErrAudioAlreadyUploaded
	}

	key := storage.AudioKey(rep.UserID, rep.ID, mime)
	if err := s.blobs.Upload(ctx, key, r, storage.ContentTypeForKey(key)); err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	updates := map[string]any{
		"audio_path":    key,
		"duration_secs": durationSecs,
		"status":        models.RepStatusProcessing,
	}
	result := s.db.WithContext(ctx).Model(&models.Rep{}).
		Where("id = ? AND audio_path IS NULL AND audio_deleted_at IS NULL AND status = ?", rep.ID, models.RepStatusUploading).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAudioAlreadyUploaded
	}
	rep.AudioPath = &key
	rep.DurationSecs = durationSecs
	rep.Status = models.RepStatusProcessing
	return rep, nil
}

// Get returns the rep and, once ready, its feedback.
func (s *RepService) Get(ctx context.Context, caller identity.Caller, repID string) (*models.Rep, *models.RepFeedback, error) {
	rep, err := s.owned(ctx, caller, repID)
	if err != nil {
		return nil, nil, err
	}

	var fb models.RepFeedback
	err = s.db.WithContext(ctx).Where("rep_id = ?", rep.ID).First(&fb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rep, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return rep, &fb, nil
}

// List returns the caller's reps, newest first.
func (s *RepService) List(ctx context.Context, caller identity.Caller, page, limit int) ([]models.Rep, int64, error) {
	page, limit = Paginate(page, limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Rep{}).Where("user_id = ?", caller.UserID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reps []models.Rep
	err := s.db.WithContext(ctx).Where("user_id = ?", caller.UserID).
		Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&reps).Error
	if err != nil {
		return nil, 0, err
	}
	return reps, total, nil
}

// Paginate clamps a requested page and limit to the values List uses.
func Paginate(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// AudioURL signs a short-lived playback URL while the audio is retained.
func (s *RepService) AudioURL(ctx context.Context, caller identity.Caller, repID string) (string, error) {
	rep, err := s.owned(ctx, caller, repID)
	if err != nil {
		return "", err
	}
	if !rep.HasAudio() || rep.AudioDeletedAt != nil {
		return "", ErrAudioUnavailable
	}
	return s.blobs.SignedURL(ctx, *rep.AudioPath, s.signedURLTTL)
}

func (s *RepService) ListScenarios(ctx context.Context) ([]models.Scenario, error) {
	var scenarios []models.Scenario
	if err := s.db.WithContext(ctx).Order("title").Find(&scenarios).Error; err != nil {
		return nil, err
	}
	return scenarios, nil
}

// owned loads a rep the caller owns. Missing and foreign reps are indistinguishable.
func (s *RepService) owned(ctx context.Context, caller identity.Caller, repID string) (*models.Rep, error) {
	id, err := uuid.Parse(repID)
	if err != nil {
		return nil, ErrRepNotFound
	}
	var rep models.Rep
	err = s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, caller.UserID).First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRepNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
