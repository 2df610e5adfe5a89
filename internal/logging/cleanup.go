package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"gorm.io/gorm"
)

const systemLogRetention = 30 * 24 * time.Hour

// PurgeSystemLogs deletes system_logs rows older than the retention period.
func PurgeSystemLogs(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Where("timestamp < ?", now.Add(-systemLogRetention)).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// StartCleanup runs PurgeSystemLogs once a day until done is closed.
func StartCleanup(db *gorm.DB, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := PurgeSystemLogs(context.Background(), db, time.Now())
				if err != nil {
					slog.Error("log cleanup failed", "error", err)
				} else if deleted > 0 {
					slog.Info("log cleanup completed", "deleted", deleted)
				}
			case <-done:
				return
			}
		}
	}()
}
