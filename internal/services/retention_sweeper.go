package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SweepSummary is the result of one retention run.
type SweepSummary struct {
	Scanned int      `json:"scanned"`
	Deleted int      `json:"deleted"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// RunLease keeps two sweeps from overlapping across instances.
type RunLease interface {
	TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

type RetentionConfig struct {
	Window    time.Duration
	BatchSize int
	MaxRows   int
}

// RetentionSweeper deletes aged rep audio and stamps audio_deleted_at.
type RetentionSweeper struct {
	db    *gorm.DB
	blobs storage.BlobStore
	cfg   RetentionConfig
	lease RunLease
	now   func() time.Time
}

func NewRetentionSweeper(db *gorm.DB, blobs storage.BlobStore, cfg RetentionConfig, lease RunLease) *RetentionSweeper {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 500
	}
	return &RetentionSweeper{
		db:    db,
		blobs: blobs,
		cfg:   cfg,
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps at most MaxRows rows in pages of BatchSize. Row failures are
// collected in the summary and never abort the run. A row whose blob delete
// failed keeps its audio_path so a later run retries it.
func (s *RetentionSweeper) Run(ctx context.Context) (SweepSummary, error) {
	summary := SweepSummary{Errors: []string{}}

	if s.lease != nil {
		release, ok, err := s.lease.TryAcquire(ctx)
		if err != nil {
			return summary, err
		}
		if !ok {
			return summary, ErrSweepInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("release retention lease", "error", err.Error())
			}
		}()
	}

	start := time.Now()
	cutoff := s.now().Add(-s.cfg.Window)
	var attempted []uuid.UUID

	for summary.Scanned < s.cfg.MaxRows {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, "run: "+err.Error())
			break
		}
		limit := min(s.cfg.BatchSize, s.cfg.MaxRows-summary.Scanned)

		q := s.db.WithContext(ctx).
			Where("audio_path IS NOT NULL AND audio_deleted_at IS NULL AND created_at < ?", cutoff)
		if len(attempted) > 0 {
			q = q.Where("id NOT IN ?", attempted)
		}
		var batch []models.Rep
		if err := q.Order("created_at").Limit(limit).Find(&batch).Error; err != nil {
			summary.Errors = append(summary.Errors, "query: "+err.Error())
			break
		}
		if len(batch) == 0 {
			break
		}
		summary.Scanned += len(batch)

		for i := range batch {
			attempted = append(attempted, batch[i].ID)
			s.sweepRow(ctx, &batch[i], &summary)
		}
	}

	slog.Info("retention sweep finished",
		"scanned", summary.Scanned,
		"deleted", summary.Deleted,
		"updated", summary.Updated,
		"errors", len(summary.Errors),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (s *RetentionSweeper) sweepRow(ctx context.Context, rep *models.Rep, summary *SweepSummary) {
	id := rep.ID.String()

	if rep.HasAudio() {
		path := strings.TrimSpace(*rep.AudioPath)
		err := s.blobs.Delete(ctx, path)
		switch {
		case err == nil:
			summary.Deleted++
		case errors.Is(err, storage.ErrObjectNotFound):
			// already gone
		default:
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", id, err))
			slog.Warn("retention delete failed", "rep_id", id, "stage", "retention", "error", err.Error())
			return
		}
	}

	res := s.db.WithContext(ctx).Model(&models.Rep{}).
		Where("id = ? AND audio_deleted_at IS NULL", rep.ID).
		Updates(map[string]any{
			"audio_path":       nil,
			"audio_deleted_at": s.now(),
		})
	if res.Error != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s update: %v", id, res.Error))
		return
	}
	if res.RowsAffected > 0 {
		summary.Updated++
	}
}

// StartRetention runs the sweeper every interval until done is closed.
func StartRetention(s *RetentionSweeper, interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				summary, err := s.Run(context.Background())
				switch {
				case errors.Is(err, ErrSweepInProgress):
					slog.Info("retention sweep skipped: held elsewhere")
				case err != nil:
					slog.Error("retention sweep failed", "error", err)
				default:
					slog.Info("retention sweep completed",
						"scanned", summary.Scanned,
						"deleted", summary.Deleted,
						"updated", summary.Updated,
						"errors", len(summary.Errors),
					)
				}
			case <-done:
				return
			}
		}
	}()
}
