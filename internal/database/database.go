package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return nil
}

// Migrate runs AutoMigrate for every table the service owns or reads.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Scenario{},
		&models.Rep{},
		&models.RepFeedback{},
		&models.BetaWhitelist{},
		&models.BetaRequest{},
		&models.SystemLog{},
	)
}

var defaultScenarios = []models.Scenario{
	{
		Slug:   "elevator-pitch",
		Title:  "Elevator pitch",
		Prompt: "Introduce yourself and what you work on in under a minute.",
	},
	{
		Slug:   "status-update",
		Title:  "Status update",
		Prompt: "Give your team a short update on a project: progress, blockers, next steps.",
	},
	{
		Slug:   "difficult-feedback",
		Title:  "Difficult feedback",
		Prompt: "Deliver a piece of constructive feedback to a colleague, kindly and clearly.",
	},
}

// SeedScenarios inserts the default scenarios, leaving existing slugs untouched.
func SeedScenarios(db *gorm.DB) error {
	for i := range defaultScenarios {
		s := defaultScenarios[i]
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).Create(&s).Error; err != nil {
			return fmt.Errorf("seed scenario %s: %w", s.Slug, err)
		}
	}
	return nil
}

func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
