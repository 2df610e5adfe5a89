package services

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrRepNotFound          = errors.New("rep not found")
	ErrScenarioNotFound     = errors.New("scenario not found")
	ErrInvalidEmail         = errors.New("a valid email is required")
	ErrInvalidDuration      = errors.New("duration_secs must be a positive number")
	ErrAudioAlreadyUploaded = errors.New("rep audio already uploaded")
	ErrAudioUnavailable     = errors.New("rep audio is not available")
	ErrSweepInProgress      = errors.New("retention sweep already running")
)

// User-facing job messages.
const (
	MsgRepIDRequired      = "rep_id required"
	MsgRepNotFound        = "Rep not found"
	MsgBetaAccessRequired = "Beta access required. This account is not whitelisted yet."
	MsgNoAudio            = "Rep has no audio_path"
	MsgStorageDownload    = "Storage download failed"
	MsgInternal           = "Internal server error"
)

const maxErrorMessageLen = 200

// JobError is a classified Rep Processor failure. Status is the HTTP class
// reported to the caller; Message is safe to show to users.
type JobError struct {
	Status  int
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *JobError) Unwrap() error { return e.Err }

// IsUpstream reports whether the failure came from storage or a provider.
func (e *JobError) IsUpstream() bool {
	return e.Status == http.StatusBadGateway
}

func jobError(status int, msg string, err error) *JobError {
	return &JobError{Status: status, Message: msg, Err: err}
}

// Truncate caps s at max runes, replacing the tail with "..." when it cuts.
// Invalid UTF-8 sequences are dropped.
func Truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
