package upstream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GCPSpeechTranscriber implements Transcriber with Cloud Speech-to-Text v1.
type GCPSpeechTranscriber struct {
	client    *speech.Client
	recognize recognizeFunc
	language  string
}

// NewGCPSpeechTranscriber dials Cloud Speech. credentialsFile may be empty to
// use application default credentials.
func NewGCPSpeechTranscriber(ctx context.Context, language, credentialsFile string) (*GCPSpeechTranscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	t := newGCPSpeechTranscriber(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	}, language)
	t.client = c
	return t, nil
}

func newGCPSpeechTranscriber(fn recognizeFunc, language string) *GCPSpeechTranscriber {
	if language == "" {
		language = "en-US"
	}
	return &GCPSpeechTranscriber{recognize: fn, language: language}
}

func (t *GCPSpeechTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Transcribe runs a synchronous recognize call and joins the top alternative
// of every result.
func (t *GCPSpeechTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	req := &speechpb.RecognizeRequest{
		Config: speechConfigFor(filename, t.language),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	resp, err := t.recognize(ctx, req)
	if err != nil {
		return "", classifyGRPC(ctx, opTranscribe, err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

func speechConfigFor(filename, language string) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
		Encoding:                   speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".webm":
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
		cfg.SampleRateHertz = 48000
	case ".ogg", ".opus":
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
		cfg.SampleRateHertz = 48000
	}
	return cfg
}

// classifyGRPC maps gRPC status codes onto the shared failure kinds.
func classifyGRPC(ctx context.Context, op string, err error) *Error {
	if ctx != nil && ctx.Err() != nil {
		return &Error{Kind: KindPermanent, Op: op, Err: err}
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
		return &Error{Kind: classifyTransport(err), Op: op, Err: err}
	}
	kind := KindPermanent
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		kind = KindTransient
	case codes.ResourceExhausted:
		kind = KindQuota
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
