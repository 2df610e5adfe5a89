package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Kind classifies an upstream failure for retry decisions.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	// KindQuota covers rate limits and exhausted credit. Retrying fails identically.
	KindQuota Kind = "quota"
)

// ErrInvalidPayload marks a response that could not be decoded or broke its contract.
var ErrInvalidPayload = errors.New("invalid upstream payload")

const maxBodySnippet = 300

// Error is a classified failure from a transcription or scoring call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + string(e.Kind) + " failure"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError classifies a non-2xx HTTP response.
func StatusError(op string, status int, body []byte) *Error {
	text := strings.ToValidUTF8(strings.TrimSpace(string(body)), "")
	snippet := text
	if r := []rune(text); len(r) > maxBodySnippet {
		snippet = string(r[:maxBodySnippet])
	}
	return &Error{
		Kind:       classifyStatus(status, text),
		Op:         op,
		StatusCode: status,
		Body:       snippet,
	}
}

func classifyStatus(status int, body string) Kind {
	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(body, "insufficient_quota"):
		return KindQuota
	case status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindPermanent
	}
}

// TransportError classifies a failure that happened before a status code was
// seen. ctx is the caller's context: when it is already done the failure is
// the caller's own cancellation and is not retryable.
func TransportError(ctx context.Context, op string, err error) *Error {
	if ctx != nil && ctx.Err() != nil {
		return &Error{Kind: KindPermanent, Op: op, Err: err}
	}
	return &Error{Kind: classifyTransport(err), Op: op, Err: err}
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindTransient
	}
	return KindPermanent
}

// PayloadError wraps a decode or contract failure. These are never retried.
func PayloadError(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
}

// KindOf returns the classification of err, or KindPermanent for unclassified errors.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindPermanent
}

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsQuota reports whether err is a rate-limit or quota failure.
func IsQuota(err error) bool {
	return err != nil && KindOf(err) == KindQuota
}
