package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/signals"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/storage"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/upstream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedScenario(t *testing.T, db *gorm.DB) models.Scenario {
	t.Helper()
	s := models.Scenario{Slug: "pitch-" + uuid.NewString()[:8], Title: "Pitch", Prompt: "Pitch yourself."}
	require.NoError(t, db.Create(&s).Error)
	return s
}

func newCaller(email string) identity.Caller {
	return identity.Caller{UserID: uuid.New(), Email: models.NormalizeEmail(email)}
}

func allow(t *testing.T, db *gorm.DB, email string) {
	t.Helper()
	require.NoError(t, NewAccessService(db).Grant(context.Background(), email))
}

// insertRep writes a rep directly, bypassing RepService validation.
func insertRep(t *testing.T, db *gorm.DB, owner uuid.UUID, status string, audioPath *string) models.Rep {
	t.Helper()
	rep := models.Rep{
		UserID:     owner,
		ScenarioID: uuid.New(),
		AudioPath:  audioPath,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(&rep).Error)
	return rep
}

func loadRep(t *testing.T, db *gorm.DB, id uuid.UUID) models.Rep {
	t.Helper()
	var rep models.Rep
	require.NoError(t, db.Where("id = ?", id).First(&rep).Error)
	return rep
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

type fakeBlobs struct {
	mu          sync.Mutex
	objects     map[string][]byte
	downloadErr error
	deleteErrs  map[string]error
	deletes     []string
	uploads     []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, deleteErrs: map[string]error{}}
}

func (f *fakeBlobs) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeBlobs) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", key, storage.ErrObjectNotFound)
	}
	return bytes.Clone(data), nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	if err := f.deleteErrs[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (f *fakeBlobs) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

// fakeTranscriber returns errs in order, then text.
type fakeTranscriber struct {
	mu     sync.Mutex
	text   string
	errs   []error
	calls  int
	onCall func()
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return f.text, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeScorer struct {
	mu            sync.Mutex
	content       upstream.ContentFeedback
	contentErrs   []error
	contentCalls  int
	delivery      upstream.DeliveryAssessment
	deliveryErr   error
	deliveryBlock bool
	deliveryCalls int
	lastSignals   signals.Signals
}

func (f *fakeScorer) ScoreContent(ctx context.Context, transcript string) (upstream.ContentFeedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls++
	if len(f.contentErrs) > 0 {
		err := f.contentErrs[0]
		f.contentErrs = f.contentErrs[1:]
		if err != nil {
			return upstream.ContentFeedback{}, err
		}
	}
	return f.content, nil
}

func (f *fakeScorer) ScoreDelivery(ctx context.Context, transcript string, sig signals.Signals) (upstream.DeliveryAssessment, error) {
	f.mu.Lock()
	f.deliveryCalls++
	f.lastSignals = sig
	block, err := f.deliveryBlock, f.deliveryErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return upstream.DeliveryAssessment{}, upstream.TransportError(context.Background(), "delivery scoring", ctx.Err())
	}
	if err != nil {
		return upstream.DeliveryAssessment{}, err
	}
	return f.delivery, nil
}

func (f *fakeScorer) calls() (content, delivery int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contentCalls, f.deliveryCalls
}

func goodContent() upstream.ContentFeedback {
	score := 7.0
	return upstream.ContentFeedback{
		Bullets:  []string{"Clear opening", "Good example", "Strong close"},
		Coaching: "Pause before your key point.",
		Score:    &score,
	}
}

func goodDelivery() upstream.DeliveryAssessment {
	dim := upstream.DeliveryDimension{Rating: upstream.RatingOK, Note: "fine"}
	return upstream.DeliveryAssessment{
		OverallScore: 6,
		Dimensions:   upstream.DeliveryDimensions{Pace: dim, Fillers: dim, Structure: dim, Confidence: dim},
		Summary:      "Solid delivery.",
		Coaching:     []string{"Slow down slightly"},
	}
}

var errBoom = errors.New("boom")
