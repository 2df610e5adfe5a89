package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/signals"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/storage"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/upstream"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	rawKeyDelivery      = "audio_delivery"
	rawKeyDeliveryError = "audio_delivery_error"

	defaultDeliveryTimeout = 60 * time.Second
	rawMergeTimeout        = 5 * time.Second
)

// RepProcessor turns an uploaded rep into persisted feedback.
type RepProcessor struct {
	db              *gorm.DB
	blobs           storage.BlobStore
	transcriber     upstream.Transcriber
	scorer          upstream.Scorer
	access          *AccessService
	deliveryTimeout time.Duration

	// inflight collapses concurrent invocations for the same caller and rep.
	inflight singleflight.Group
}

func NewRepProcessor(
	db *gorm.DB,
	blobs storage.BlobStore,
	transcriber upstream.Transcriber,
	scorer upstream.Scorer,
	access *AccessService,
	deliveryTimeout time.Duration,
) *RepProcessor {
	if deliveryTimeout <= 0 {
		deliveryTimeout = defaultDeliveryTimeout
	}
	return &RepProcessor{
		db:              db,
		blobs:           blobs,
		transcriber:     transcriber,
		scorer:          scorer,
		access:          access,
		deliveryTimeout: deliveryTimeout,
	}
}

// Process runs the pipeline for repID on behalf of caller. It returns nil on
// success or idempotent replay and a *JobError otherwise. Failures after the
// entitlement gate are recorded on the rep before returning.
func (p *RepProcessor) Process(ctx context.Context, caller identity.Caller, repID string) error {
	repID = strings.TrimSpace(repID)
	if repID == "" {
		return jobError(http.StatusBadRequest, MsgRepIDRequired, nil)
	}
	id, err := uuid.Parse(repID)
	if err != nil {
		return jobError(http.StatusNotFound, MsgRepNotFound, ErrRepNotFound)
	}

	key := caller.UserID.String() + ":" + id.String()
	_, err, shared := p.inflight.Do(key, func() (any, error) {
		return nil, p.process(ctx, caller, id)
	})
	if shared {
		slog.Info("rep processing shared with in-flight call", "rep_id", id.String())
	}
	return err
}

func (p *RepProcessor) process(ctx context.Context, caller identity.Caller, id uuid.UUID) error {
	start := time.Now()
	log := slog.With("rep_id", id.String(), "user_id", caller.UserID.String())

	var rep models.Rep
	err := p.db.WithContext(ctx).Where("id = ?", id).First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("rep not found", "stage", "load")
		return jobError(http.StatusNotFound, MsgRepNotFound, ErrRepNotFound)
	}
	if err != nil {
		log.Error("load rep failed", "stage", "load", "error", err.Error())
		return jobError(http.StatusInternalServerError, MsgInternal, err)
	}
	if rep.UserID != caller.UserID {
		log.Warn("rep owned by another user", "stage", "load")
		return jobError(http.StatusNotFound, MsgRepNotFound, ErrRepNotFound)
	}

	entitled, err := p.access.IsEntitled(ctx, caller.Email)
	if err != nil {
		log.Error("entitlement lookup failed", "stage", "entitlement", "error", err.Error())
		return jobError(http.StatusInternalServerError, MsgInternal, err)
	}
	if !entitled {
		log.Warn("caller not on allow-list", "stage", "entitlement")
		// A completed rep keeps its result.
		if done, err := p.completed(ctx, &rep); err != nil || !done {
			p.markFailed(ctx, id, MsgBetaAccessRequired)
		}
		return jobError(http.StatusForbidden, MsgBetaAccessRequired, nil)
	}

	if rep.Status == models.RepStatusReady {
		done, err := p.feedbackExists(ctx, id)
		if err != nil {
			log.Error("feedback lookup failed", "stage", "idempotency", "error", err.Error())
			return jobError(http.StatusInternalServerError, MsgInternal, err)
		}
		if done {
			log.Info("rep already processed", "stage", "idempotency")
			return nil
		}
	}

	if !rep.HasAudio() {
		return jobError(http.StatusBadRequest, MsgNoAudio, nil)
	}
	audioPath := strings.TrimSpace(*rep.AudioPath)

	if rep.Status == models.RepStatusUploading {
		if err := p.db.WithContext(ctx).Model(&models.Rep{}).
			Where("id = ?", id).
			Update("status", models.RepStatusProcessing).Error; err != nil {
			log.Warn("advance to processing failed", "stage", "self_heal", "error", err.Error())
		}
	}

	span := sentry.StartSpan(ctx, "rep.download")
	audio, err := p.blobs.Download(span.Context(), audioPath)
	span.Finish()
	if err != nil {
		log.Error("audio download failed", "stage", "download", "error", err.Error())
		p.markFailed(ctx, id, err.Error())
		return jobError(http.StatusBadGateway, MsgStorageDownload, err)
	}

	transcript, feedback, err := p.transcribeAndScore(ctx, log, audio, storage.Filename(audioPath))
	if err != nil {
		msg := Truncate(err.Error(), maxErrorMessageLen)
		log.Error("transcribe and score failed", "stage", "upstream", "error", err.Error(),
			"kind", string(upstream.KindOf(err)))
		p.markFailed(ctx, id, msg)
		return jobError(http.StatusBadGateway, msg, err)
	}

	if err := p.persist(ctx, id, transcript, feedback); err != nil {
		log.Error("persist feedback failed", "stage", "persist", "error", err.Error())
		p.markFailed(ctx, id, err.Error())
		return jobError(http.StatusInternalServerError, MsgInternal, err)
	}

	p.inferDelivery(ctx, log, id, transcript, rep.DurationSecs)

	log.Info("rep processed", "stage", "done", "latency_ms", time.Since(start).Milliseconds())
	return nil
}

// transcribeAndScore runs transcription and content scoring as one unit and
// retries it once when the first failure is transient.
func (p *RepProcessor) transcribeAndScore(ctx context.Context, log *slog.Logger, audio []byte, filename string) (string, upstream.ContentFeedback, error) {
	attempt := func() (string, upstream.ContentFeedback, error) {
		span := sentry.StartSpan(ctx, "rep.transcribe")
		transcript, err := p.transcriber.Transcribe(span.Context(), audio, filename)
		span.Finish()
		if err != nil {
			return "", upstream.ContentFeedback{}, err
		}

		span = sentry.StartSpan(ctx, "rep.score_content")
		fb, err := p.scorer.ScoreContent(span.Context(), transcript)
		span.Finish()
		if err != nil {
			return "", upstream.ContentFeedback{}, err
		}
		return transcript, fb, nil
	}

	transcript, fb, err := attempt()
	if err == nil || !upstream.IsTransient(err) {
		return transcript, fb, err
	}
	log.Warn("transient upstream failure, retrying once", "stage", "upstream", "error", err.Error())
	return attempt()
}

func (p *RepProcessor) persist(ctx context.Context, id uuid.UUID, transcript string, fb upstream.ContentFeedback) error {
	bullets := fb.Bullets
	if bullets == nil {
		bullets = []string{}
	}
	row := models.RepFeedback{
		RepID:      id,
		Transcript: transcript,
		Bullets:    bullets,
		Coaching:   fb.Coaching,
		Score:      fb.Score,
		Raw: map[string]any{
			"bullets":  bullets,
			"coaching": fb.Coaching,
			"score":    fb.Score,
		},
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rep_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"transcript", "bullets", "coaching", "score", "raw"}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&models.Rep{}).Where("id = ?", id).Updates(map[string]any{
			"status":        models.RepStatusReady,
			"error_message": nil,
		}).Error
	})
}

// inferDelivery runs the best-effort delivery pass. Its outcome is only ever
// merged into raw; it never changes the job result or the rep status.
func (p *RepProcessor) inferDelivery(ctx context.Context, log *slog.Logger, id uuid.UUID, transcript string, durationSecs *float64) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deliveryTimeout)
	defer cancel()

	span := sentry.StartSpan(dctx, "rep.score_delivery")
	sig := signals.Extract(transcript, durationSecs)
	assessment, err := p.scorer.ScoreDelivery(span.Context(), transcript, sig)
	span.Finish()

	key, value := rawKeyDelivery, any(nil)
	if err != nil {
		log.Warn("delivery inference failed", "stage", "delivery", "error", err.Error())
		key, value = rawKeyDeliveryError, Truncate(err.Error(), maxErrorMessageLen)
	} else {
		value = map[string]any{
			"signals":    sig,
			"assessment": assessment,
		}
	}

	// The scoring deadline may already have passed; the merge gets its own.
	mctx, mcancel := context.WithTimeout(context.WithoutCancel(ctx), rawMergeTimeout)
	defer mcancel()
	if err := p.mergeRaw(mctx, id, key, value); err != nil {
		log.Warn("delivery merge failed", "stage", "delivery", "error", err.Error())
	}
}

// mergeRaw adds key to the feedback raw payload unless it is already present.
func (p *RepProcessor) mergeRaw(ctx context.Context, id uuid.UUID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return err
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fb models.RepFeedback
		if err := tx.Where("rep_id = ?", id).First(&fb).Error; err != nil {
			return err
		}
		raw := fb.Raw
		if raw == nil {
			raw = map[string]any{}
		}
		if _, exists := raw[key]; exists {
			return nil
		}
		raw[key] = normalized
		return tx.Model(&models.RepFeedback{}).Where("rep_id = ?", id).Update("raw", raw).Error
	})
}

func (p *RepProcessor) completed(ctx context.Context, rep *models.Rep) (bool, error) {
	if rep.Status != models.RepStatusReady {
		return false, nil
	}
	return p.feedbackExists(ctx, rep.ID)
}

func (p *RepProcessor) feedbackExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.RepFeedback{}).Where("rep_id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// markFailed records a terminal failure. The write outlives request cancellation.
func (p *RepProcessor) markFailed(ctx context.Context, id uuid.UUID, msg string) {
	msg = Truncate(msg, maxErrorMessageLen)
	err := p.db.WithContext(context.WithoutCancel(ctx)).Model(&models.Rep{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        models.RepStatusFailed,
			"error_message": msg,
		}).Error
	if err != nil {
		slog.Error("mark rep failed", "rep_id", id.String(), "stage", "mark_failed", "error", err.Error())
	}
}
