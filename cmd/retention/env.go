package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/logging"
	"gorm.io/gorm"
)

// env is what a command needs from the process: config and an open database.
type env struct {
	cfg   *config.Config
	db    *gorm.DB
	close func()
}

type envOpener func(ctx context.Context) (*env, error)

func openEnv(ctx context.Context) (*env, error) {
	logging.Setup()

	cfg := config.Load()
	if cfg.DBPassword == "" {
		return nil, errors.New("DB_PASSWORD environment variable is required")
	}
	if err := database.Connect(cfg); err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	db := database.DB.WithContext(ctx)
	return &env{
		cfg: cfg,
		db:  db,
		close: func() {
			if sqlDB, err := database.DB.DB(); err == nil {
				if err := sqlDB.Close(); err != nil {
					slog.Error("database close error", "error", err)
				}
			}
		},
	}, nil
}
