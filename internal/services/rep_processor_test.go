package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/upstream"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type processorFixture struct {
	db          *gorm.DB
	blobs       *fakeBlobs
	transcriber *fakeTranscriber
	scorer      *fakeScorer
	processor   *RepProcessor
	caller      identity.Caller
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	db := newTestDB(t)
	f := &processorFixture{
		db:          db,
		blobs:       newFakeBlobs(),
		transcriber: &fakeTranscriber{text: "um I think uh this is like a test you know"},
		scorer:      &fakeScorer{content: goodContent(), delivery: goodDelivery()},
		caller:      newCaller("Owner@Example.com"),
	}
	f.processor = NewRepProcessor(db, f.blobs, f.transcriber, f.scorer, NewAccessService(db), time.Second)
	allow(t, db, "owner@example.com")
	return f
}

// processingRep inserts a rep with stored audio in the given status.
func (f *processorFixture) processingRep(t *testing.T, status string) models.Rep {
	t.Helper()
	path := f.caller.UserID.String() + "/" + uuid.NewString() + ".webm"
	f.blobs.objects[path] = []byte("audio")
	rep := insertRep(t, f.db, f.caller.UserID, status, strPtr(path))
	return rep
}

func requireJobError(t *testing.T, err error, status int) *JobError {
	t.Helper()
	require.Error(t, err)
	var je *JobError
	require.True(t, errors.As(err, &je), "expected *JobError, got %T", err)
	assert.Equal(t, status, je.Status)
	return je
}

func loadFeedback(t *testing.T, db *gorm.DB, id uuid.UUID) models.RepFeedback {
	t.Helper()
	var fb models.RepFeedback
	require.NoError(t, db.Where("rep_id = ?", id).First(&fb).Error)
	return fb
}

func TestProcess_EndToEnd(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	scenario := seedScenario(t, f.db)
	reps := NewRepService(f.db, f.blobs, time.Minute)

	rep, err := reps.Create(ctx, f.caller, scenario.ID.String())
	require.NoError(t, err)
	assert.Equal(t, models.RepStatusUploading, rep.Status)

	rep, err = reps.UploadAudio(ctx, f.caller, rep.ID.String(), bytes.NewReader([]byte("audio")), "audio/webm;codecs=opus", floatPtr(10))
	require.NoError(t, err)
	assert.Equal(t, models.RepStatusProcessing, rep.Status)

	require.NoError(t, f.processor.Process(ctx, f.caller, rep.ID.String()))

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusReady, got.Status)
	assert.Nil(t, got.ErrorMessage)

	fb := loadFeedback(t, f.db, rep.ID)
	assert.Equal(t, "um I think uh this is like a test you know", fb.Transcript)
	assert.NotEmpty(t, fb.Coaching)
	assert.GreaterOrEqual(t, len(fb.Bullets), 3)
	assert.LessOrEqual(t, len(fb.Bullets), 6)
	require.NotNil(t, fb.Score)
	assert.Equal(t, 7.0, *fb.Score)

	assert.Contains(t, fb.Raw, "bullets")
	assert.Contains(t, fb.Raw, "coaching")
	assert.Contains(t, fb.Raw, "score")
	assert.Contains(t, fb.Raw, rawKeyDelivery)
	assert.NotContains(t, fb.Raw, rawKeyDeliveryError)

	// duration flows into the delivery signals
	require.NotNil(t, f.scorer.lastSignals.WordsPerMinute)
	assert.Equal(t, 66, *f.scorer.lastSignals.WordsPerMinute)
	assert.Equal(t, 4, f.scorer.lastSignals.FillerWordCount)
}

func TestProcess_IdempotentReplay(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))
	content, delivery := f.scorer.calls()
	transcribes := f.transcriber.callCount()

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))
	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	c2, d2 := f.scorer.calls()
	assert.Equal(t, content, c2)
	assert.Equal(t, delivery, d2)
	assert.Equal(t, transcribes, f.transcriber.callCount())

	var count int64
	f.db.Model(&models.RepFeedback{}).Where("rep_id = ?", rep.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestProcess_ReadyWithoutFeedbackReprocesses(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusReady)

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	assert.Equal(t, 1, f.transcriber.callCount())
	loadFeedback(t, f.db, rep.ID)
}

func TestProcess_ForeignAndMissingRepsLookTheSame(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)

	intruder := newCaller("intruder@example.com")
	allow(t, f.db, "intruder@example.com")

	foreignErr := requireJobError(t, f.processor.Process(context.Background(), intruder, rep.ID.String()), http.StatusNotFound)
	missingErr := requireJobError(t, f.processor.Process(context.Background(), intruder, uuid.NewString()), http.StatusNotFound)
	garbageErr := requireJobError(t, f.processor.Process(context.Background(), intruder, "not-a-uuid"), http.StatusNotFound)

	assert.Equal(t, missingErr.Message, foreignErr.Message)
	assert.Equal(t, missingErr.Message, garbageErr.Message)
	assert.Equal(t, MsgRepNotFound, foreignErr.Message)

	// the owner's row is untouched
	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusProcessing, got.Status)
	assert.Zero(t, f.transcriber.callCount())
}

func TestProcess_NotEntitledMarksFailed(t *testing.T) {
	f := newProcessorFixture(t)
	outsider := newCaller("outsider@example.com")
	path := outsider.UserID.String() + "/r.webm"
	f.blobs.objects[path] = []byte("audio")
	rep := insertRep(t, f.db, outsider.UserID, models.RepStatusProcessing, strPtr(path))

	je := requireJobError(t, f.processor.Process(context.Background(), outsider, rep.ID.String()), http.StatusForbidden)
	assert.Equal(t, MsgBetaAccessRequired, je.Message)

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, strings.HasPrefix(*got.ErrorMessage, "Beta access required"))
	assert.Zero(t, f.transcriber.callCount())
}

func TestProcess_RevokedAccessKeepsCompletedRep(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	require.NoError(t, f.db.Where("email = ?", "owner@example.com").Delete(&models.BetaWhitelist{}).Error)

	requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusForbidden)
	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusReady, got.Status)
	assert.Nil(t, got.ErrorMessage)
}

func TestProcess_EntitlementIsCaseInsensitive(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	caller := identity.Caller{UserID: f.caller.UserID, Email: "OWNER@example.COM"}

	require.NoError(t, f.processor.Process(context.Background(), caller, rep.ID.String()))
}

func TestProcess_ValidationDoesNotMutate(t *testing.T) {
	f := newProcessorFixture(t)

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, "  "), http.StatusBadRequest)
	assert.Equal(t, MsgRepIDRequired, je.Message)

	rep := insertRep(t, f.db, f.caller.UserID, models.RepStatusUploading, strPtr("   "))
	je = requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadRequest)
	assert.Equal(t, MsgNoAudio, je.Message)

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusUploading, got.Status)
	assert.Nil(t, got.ErrorMessage)
}

func TestProcess_SelfHealsUploading(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusUploading)

	var statusDuringTranscribe string
	f.transcriber.onCall = func() {
		statusDuringTranscribe = loadRep(t, f.db, rep.ID).Status
	}

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))
	assert.Equal(t, models.RepStatusProcessing, statusDuringTranscribe)
	assert.Equal(t, models.RepStatusReady, loadRep(t, f.db, rep.ID).Status)
}

func TestProcess_DownloadFailureIsNotRetried(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.blobs.downloadErr = errors.New("bucket unreachable")

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)
	assert.Equal(t, MsgStorageDownload, je.Message)

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "bucket unreachable", *got.ErrorMessage)
	assert.Zero(t, f.transcriber.callCount())
}

func TestProcess_TransientFailureRetriedOnce(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.transcriber.errs = []error{upstream.StatusError("transcription", 503, []byte("busy"))}

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	assert.Equal(t, 2, f.transcriber.callCount())
	assert.Equal(t, models.RepStatusReady, loadRep(t, f.db, rep.ID).Status)
}

func TestProcess_TransientContentFailureRetriesWholeUnit(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.scorer.contentErrs = []error{upstream.StatusError("content scoring", 502, nil)}

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	content, _ := f.scorer.calls()
	assert.Equal(t, 2, content)
	assert.Equal(t, 2, f.transcriber.callCount())
}

func TestProcess_SecondTransientFailureIsTerminal(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.transcriber.errs = []error{
		upstream.StatusError("transcription", 500, []byte("a")),
		upstream.StatusError("transcription", 500, []byte("b")),
		upstream.StatusError("transcription", 500, []byte("c")),
	}

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)
	assert.Equal(t, "transcription: http 500: b", je.Message)
	assert.Equal(t, 2, f.transcriber.callCount())

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "transcription: http 500: b", *got.ErrorMessage)
}

func TestProcess_QuotaIsNeverRetried(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.transcriber.errs = []error{upstream.StatusError("transcription", http.StatusTooManyRequests, []byte("slow down"))}

	requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)

	assert.Equal(t, 1, f.transcriber.callCount())
	assert.Equal(t, models.RepStatusFailed, loadRep(t, f.db, rep.ID).Status)
}

func TestProcess_InvalidPayloadIsNotRetried(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.scorer.contentErrs = []error{upstream.PayloadError("content scoring", errors.New("score: 11 outside 1-10"))}

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)
	assert.ErrorIs(t, je, upstream.ErrInvalidPayload)

	content, _ := f.scorer.calls()
	assert.Equal(t, 1, content)

	var count int64
	f.db.Model(&models.RepFeedback{}).Where("rep_id = ?", rep.ID).Count(&count)
	assert.Zero(t, count)
}

func TestProcess_LongErrorTruncated(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.transcriber.errs = []error{upstream.StatusError("transcription", 400, []byte(strings.Repeat("x", 250)))}

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)
	assert.LessOrEqual(t, len([]rune(je.Message)), 200)
	assert.True(t, strings.HasSuffix(je.Message, "..."))

	got := loadRep(t, f.db, rep.ID)
	require.NotNil(t, got.ErrorMessage)
	assert.Len(t, []rune(*got.ErrorMessage), 200)
	assert.True(t, strings.HasSuffix(*got.ErrorMessage, "..."))
}

func TestProcess_NullScorePersisted(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.scorer.content.Score = nil

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	fb := loadFeedback(t, f.db, rep.ID)
	assert.Nil(t, fb.Score)
	assert.Nil(t, fb.Raw["score"])
}

func TestProcess_DeliveryFailureIsBestEffort(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.scorer.deliveryErr = upstream.PayloadError("delivery scoring", errors.New("coaching: 5 items, at most 4 allowed"))

	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	assert.Equal(t, models.RepStatusReady, loadRep(t, f.db, rep.ID).Status)
	fb := loadFeedback(t, f.db, rep.ID)
	assert.NotContains(t, fb.Raw, rawKeyDelivery)
	require.Contains(t, fb.Raw, rawKeyDeliveryError)
	assert.Contains(t, fb.Raw[rawKeyDeliveryError], "at most 4")
	assert.Equal(t, "Pause before your key point.", fb.Raw["coaching"])
}

func TestProcess_DeliveryTimeoutDoesNotFailJob(t *testing.T) {
	f := newProcessorFixture(t)
	f.processor.deliveryTimeout = 50 * time.Millisecond
	rep := f.processingRep(t, models.RepStatusProcessing)
	f.scorer.deliveryBlock = true

	start := time.Now()
	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))
	assert.Less(t, time.Since(start), 5*time.Second)

	fb := loadFeedback(t, f.db, rep.ID)
	require.Contains(t, fb.Raw, rawKeyDeliveryError)
	assert.Contains(t, fb.Raw[rawKeyDeliveryError], "deadline exceeded")
}

func TestMergeRaw_KeepsExistingKeys(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	require.NoError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()))

	ctx := context.Background()
	require.NoError(t, f.processor.mergeRaw(ctx, rep.ID, rawKeyDelivery, "replacement"))
	require.NoError(t, f.processor.mergeRaw(ctx, rep.ID, "bullets", []string{"overwritten"}))

	fb := loadFeedback(t, f.db, rep.ID)
	assert.IsType(t, map[string]any{}, fb.Raw[rawKeyDelivery])
	assert.Len(t, fb.Raw["bullets"], 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 200))

	exact := strings.Repeat("a", 200)
	assert.Equal(t, exact, Truncate(exact, 200))

	long := strings.Repeat("b", 201)
	out := Truncate(long, 200)
	assert.Len(t, out, 200)
	assert.True(t, strings.HasSuffix(out, "..."))

	multi := strings.Repeat("é", 300)
	out = Truncate(multi, 200)
	assert.Len(t, []rune(out), 200)

	broken := "ok \xe6\x97"
	assert.Equal(t, "ok ", Truncate(broken, 200))
}

func TestProcess_NonASCIIUpstreamBodyStillMarksFailed(t *testing.T) {
	f := newProcessorFixture(t)
	rep := f.processingRep(t, models.RepStatusProcessing)
	body := "x" + strings.Repeat("日", 200)
	f.transcriber.errs = []error{upstream.StatusError("content scoring", 400, []byte(body))}

	je := requireJobError(t, f.processor.Process(context.Background(), f.caller, rep.ID.String()), http.StatusBadGateway)
	assert.True(t, utf8.ValidString(je.Message))

	got := loadRep(t, f.db, rep.ID)
	assert.Equal(t, models.RepStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.True(t, utf8.ValidString(*got.ErrorMessage))
	assert.LessOrEqual(t, len([]rune(*got.ErrorMessage)), 200)
}
