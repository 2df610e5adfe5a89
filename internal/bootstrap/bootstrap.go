// Package bootstrap builds the configured adapters shared by the API server
// and the retention CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/lease"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/storage"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/upstream"
)

const (
	retentionLeaseKey = "reptrainer:retention-sweep"
	retentionLeaseTTL = 10 * time.Minute
)

func noop() {}

// BlobStore opens the backend named by STORAGE_DRIVER.
func BlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, func(), error) {
	switch cfg.StorageDriver {
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.AudioBucket,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "gcs":
		s, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredsFile)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("gcs close failed", "error", err)
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

// Scorer is always the OpenAI-compatible chat endpoint.
func Scorer(cfg *config.Config) *upstream.OpenAIClient {
	return upstream.NewOpenAIClient(openAIConfig(cfg))
}

// Transcriber picks the speech backend named by TRANSCRIBER.
func Transcriber(ctx context.Context, cfg *config.Config, openai *upstream.OpenAIClient) (upstream.Transcriber, func(), error) {
	switch cfg.Transcriber {
	case "openai":
		return openai, noop, nil
	case "gcp":
		t, err := upstream.NewGCPSpeechTranscriber(ctx, cfg.GCPSpeechLanguage, cfg.GCPCredentialsFile)
		if err != nil {
			return nil, noop, err
		}
		return t, func() {
			if err := t.Close(); err != nil {
				slog.Warn("speech client close failed", "error", err)
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown TRANSCRIBER %q", cfg.Transcriber)
	}
}

// RetentionLease returns a Redis-backed run lease when REDIS_ADDR is set, nil otherwise.
func RetentionLease(cfg *config.Config) (services.RunLease, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, noop, nil
	}
	l, err := lease.NewRedisLease(cfg.RedisAddr, retentionLeaseKey, retentionLeaseTTL)
	if err != nil {
		return nil, noop, err
	}
	return l, func() {
		if err := l.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}, nil
}

func RetentionConfig(cfg *config.Config) services.RetentionConfig {
	return services.RetentionConfig{
		Window:    cfg.RetentionWindow,
		BatchSize: cfg.RetentionBatchSize,
		MaxRows:   cfg.RetentionMaxRows,
	}
}

func openAIConfig(cfg *config.Config) upstream.OpenAIConfig {
	return upstream.OpenAIConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		TranscribeModel: cfg.OpenAITranscribeModel,
		ScoringModel:    cfg.OpenAIScoringModel,
		Timeout:         cfg.AITimeout,
	}
}
