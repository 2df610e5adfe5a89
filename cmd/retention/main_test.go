package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type deleteRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (d *deleteRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d.mu.Lock()
	d.paths = append(d.paths, r.URL.Path)
	d.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func newTestEnv(t *testing.T) (*gorm.DB, *deleteRecorder, envOpener) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	rec := &deleteRecorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		StorageDriver:      "s3",
		AudioBucket:        "rep-audio",
		S3Region:           "us-east-1",
		S3Endpoint:         srv.URL,
		S3AccessKey:        "test",
		S3SecretKey:        "test",
		RetentionWindow:    7 * 24 * time.Hour,
		RetentionBatchSize: 100,
		RetentionMaxRows:   500,
	}
	open := func(ctx context.Context) (*env, error) {
		return &env{cfg: cfg, db: db, close: func() {}}, nil
	}
	return db, rec, open
}

func agedRep(t *testing.T, db *gorm.DB, age time.Duration, path string) models.Rep {
	t.Helper()
	rep := models.Rep{
		UserID:     uuid.New(),
		ScenarioID: uuid.New(),
		AudioPath:  &path,
		Status:     models.RepStatusReady,
		CreatedAt:  time.Now().UTC().Add(-age),
	}
	require.NoError(t, db.Create(&rep).Error)
	return rep
}

func TestSweepCommand_PrintsSummary(t *testing.T) {
	db, rec, open := newTestEnv(t)
	old := agedRep(t, db, 8*24*time.Hour, "u1/old.webm")
	fresh := agedRep(t, db, time.Hour, "u1/fresh.webm")

	var out bytes.Buffer
	cmd := buildRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sweep"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var summary services.SweepSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Updated)
	assert.Empty(t, summary.Errors)

	require.Len(t, rec.paths, 1)
	assert.True(t, strings.HasSuffix(rec.paths[0], "/rep-audio/u1/old.webm"))

	var got models.Rep
	require.NoError(t, db.First(&got, "id = ?", old.ID).Error)
	assert.Nil(t, got.AudioPath)
	assert.NotNil(t, got.AudioDeletedAt)

	var freshRow models.Rep
	require.NoError(t, db.First(&freshRow, "id = ?", fresh.ID).Error)
	assert.NotNil(t, freshRow.AudioPath)
}

func TestSweepCommand_WindowFlag(t *testing.T) {
	db, rec, open := newTestEnv(t)
	agedRep(t, db, 2*time.Hour, "u2/recent.webm")

	var out bytes.Buffer
	cmd := buildRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sweep", "--window", "1h"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Len(t, rec.paths, 1)
}

func TestSweepFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := newSweepCommand(nil)
	require.NoError(t, cmd.ParseFlags([]string{"--max-rows", "3"}))

	var flags sweepFlags
	flags.maxRows = 3
	got := flags.apply(cmd, services.RetentionConfig{Window: time.Hour, BatchSize: 50, MaxRows: 500})
	assert.Equal(t, services.RetentionConfig{Window: time.Hour, BatchSize: 50, MaxRows: 3}, got)
}

func TestPurgeLogsCommand(t *testing.T) {
	db, _, open := newTestEnv(t)
	require.NoError(t, db.Create(&models.SystemLog{Timestamp: time.Now().UTC().Add(-40 * 24 * time.Hour), Level: "ERROR", Message: "old"}).Error)
	require.NoError(t, db.Create(&models.SystemLog{Timestamp: time.Now().UTC(), Level: "ERROR", Message: "new"}).Error)

	var out bytes.Buffer
	cmd := buildRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"purge-logs"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Equal(t, "Deleted 1 log rows\n", out.String())
	var count int64
	require.NoError(t, db.Model(&models.SystemLog{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
