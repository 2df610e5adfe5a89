package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	opTranscribe    = "transcription"
	opScoreContent  = "content scoring"
	opScoreDelivery = "delivery scoring"

	defaultOpenAITimeout = 120 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible transcription and chat client.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	TranscribeModel string
	ScoringModel    string
	Timeout         time.Duration
}

// OpenAIClient implements Transcriber and Scorer against an OpenAI-compatible API.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

type OpenAIOption func(*OpenAIClient)

// WithHTTPClient overrides the HTTP client, mostly for tests.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) {
		o.httpClient = c
	}
}

func NewOpenAIClient(cfg OpenAIConfig, opts ...OpenAIOption) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.ScoringModel == "" {
		cfg.ScoringModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	c := &OpenAIClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio as multipart form data and returns the text.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%s: build form: %w", opTranscribe, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("%s: build form: %w", opTranscribe, err)
	}
	if err := form.WriteField("model", c.cfg.TranscribeModel); err != nil {
		return "", fmt.Errorf("%s: build form: %w", opTranscribe, err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%s: build form: %w", opTranscribe, err)
	}

	body, err := c.post(ctx, opTranscribe, "/v1/audio/transcriptions", form.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var out struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", PayloadError(opTranscribe, err)
	}
	if out.Text == nil {
		return "", nil
	}
	return *out.Text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// completeJSON runs a json_object chat completion and returns the message content.
func (c *OpenAIClient) completeJSON(ctx context.Context, op, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.ScoringModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", op, err)
	}

	body, err := c.post(ctx, op, "/v1/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", PayloadError(op, err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return "", PayloadError(op, errors.New("empty chat response"))
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) post(ctx context.Context, op, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, TransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, StatusError(op, resp.StatusCode, respBody)
	}
	return respBody, nil
}
