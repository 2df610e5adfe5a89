// Package repclient is the Go client for the rep API. It invokes the
// processing job and polls a rep until it reaches a terminal status.
package repclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 60 * time.Second
)

// ErrPollTimeout means the rep was still not terminal when polling stopped.
// The rep itself is left untouched and may still finish later.
var ErrPollTimeout = errors.New("rep still processing")

// APIError is a non-2xx response from the rep API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rep api: http %d: %s", e.StatusCode, e.Message)
}

type Rep struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	ScenarioID     string     `json:"scenario_id"`
	AudioPath      *string    `json:"audio_path"`
	AudioDeletedAt *time.Time `json:"audio_deleted_at"`
	DurationSecs   *float64   `json:"duration_secs"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Terminal reports whether processing has finished, successfully or not.
func (r Rep) Terminal() bool {
	return r.Status == "ready" || r.Status == "failed"
}

type Feedback struct {
	RepID      string         `json:"rep_id"`
	Transcript string         `json:"transcript"`
	Bullets    []string       `json:"bullets"`
	Coaching   string         `json:"coaching"`
	Score      *float64       `json:"score"`
	Raw        map[string]any `json:"raw"`
	CreatedAt  time.Time      `json:"created_at"`
}

type RepDetail struct {
	Rep      Rep       `json:"rep"`
	Feedback *Feedback `json:"feedback"`
}

// Client talks to the rep API as one authenticated user.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPolling overrides the poll interval and ceiling.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.pollTimeout = timeout
		}
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 150 * time.Second},
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process invokes the processing job for repID and waits for its result.
// Replaying an already processed rep succeeds.
func (c *Client) Process(ctx context.Context, repID string) error {
	body, err := json.Marshal(map[string]string{"rep_id": repID})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/process-rep-audio", body, nil)
}

// GetRep reads the rep and its feedback, if any.
func (c *Client) GetRep(ctx context.Context, repID string) (*RepDetail, error) {
	var detail RepDetail
	if err := c.do(ctx, http.MethodGet, "/api/reps/"+repID, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Poll reads the rep every poll interval until it is ready or failed. Read
// errors are retried on the next tick. It returns ErrPollTimeout once the
// ceiling passes and ctx.Err() if ctx is canceled first.
func (c *Client) Poll(ctx context.Context, repID string) (*RepDetail, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}

		detail, err := c.GetRep(ctx, repID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if detail.Rep.Terminal() {
			return detail, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
