package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/signals"
)

const contentSystemPrompt = `You evaluate short speech transcripts and return ONLY valid JSON (no markdown, no explanation).
Output exactly: { "bullets": string[], "coaching": string, "score": number | null }
- bullets: 3-6 concise takeaways (strings).
- coaching: one short paragraph of actionable coaching.
- score: number from 1 to 10, or null if the transcript is too short to judge.`

const deliverySystemPrompt = `You assess speaking delivery from a transcript and timing signals. You never hear the audio.
Return ONLY valid JSON with exactly this shape:
{
  "overall_score": number 1-10,
  "dimensions": {
    "pace":       { "rating": "strong" | "ok" | "needs_work", "note": string },
    "fillers":    { "rating": "strong" | "ok" | "needs_work", "note": string },
    "structure":  { "rating": "strong" | "ok" | "needs_work", "note": string },
    "confidence": { "rating": "strong" | "ok" | "needs_work", "note": string }
  },
  "summary": string,
  "coaching": string[] (0 to 4 short items)
}`

const maxDeliveryCoaching = 4

// ScoreContent runs the content pass. Responses that break the contract fail;
// nothing is clamped or defaulted.
func (c *OpenAIClient) ScoreContent(ctx context.Context, transcript string) (ContentFeedback, error) {
	content, err := c.completeJSON(ctx, opScoreContent, contentSystemPrompt, "Transcript:\n"+transcript)
	if err != nil {
		return ContentFeedback{}, err
	}
	fb, err := ParseContentFeedback(content)
	if err != nil {
		return ContentFeedback{}, PayloadError(opScoreContent, err)
	}
	return fb, nil
}

// ScoreDelivery runs the delivery pass over the transcript and its signals.
func (c *OpenAIClient) ScoreDelivery(ctx context.Context, transcript string, sig signals.Signals) (DeliveryAssessment, error) {
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return DeliveryAssessment{}, fmt.Errorf("%s: encode signals: %w", opScoreDelivery, err)
	}
	user := "Signals:\n" + string(sigJSON) + "\n\nTranscript:\n" + transcript

	content, err := c.completeJSON(ctx, opScoreDelivery, deliverySystemPrompt, user)
	if err != nil {
		return DeliveryAssessment{}, err
	}
	da, err := ParseDeliveryAssessment(content)
	if err != nil {
		return DeliveryAssessment{}, PayloadError(opScoreDelivery, err)
	}
	return da, nil
}

// ParseContentFeedback validates a content-pass payload.
func ParseContentFeedback(content string) (ContentFeedback, error) {
	var fields map[string]json.RawMessage
	if err := decodeModelJSON(content, &fields); err != nil {
		return ContentFeedback{}, err
	}

	var fb ContentFeedback
	if err := requireStrings(fields, "bullets", &fb.Bullets); err != nil {
		return ContentFeedback{}, err
	}
	if err := requireString(fields, "coaching", &fb.Coaching); err != nil {
		return ContentFeedback{}, err
	}
	score, err := optionalScore(fields, "score")
	if err != nil {
		return ContentFeedback{}, err
	}
	fb.Score = score
	return fb, nil
}

// ParseDeliveryAssessment validates a delivery-pass payload.
func ParseDeliveryAssessment(content string) (DeliveryAssessment, error) {
	var fields map[string]json.RawMessage
	if err := decodeModelJSON(content, &fields); err != nil {
		return DeliveryAssessment{}, err
	}

	var da DeliveryAssessment
	score, err := optionalScore(fields, "overall_score")
	if err != nil {
		return DeliveryAssessment{}, err
	}
	if score == nil {
		return DeliveryAssessment{}, errors.New("overall_score: required")
	}
	da.OverallScore = *score

	raw, ok := fields["dimensions"]
	if !ok || isNull(raw) {
		return DeliveryAssessment{}, errors.New("dimensions: required")
	}
	var dims map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dims); err != nil {
		return DeliveryAssessment{}, fmt.Errorf("dimensions: %w", err)
	}
	for name, dst := range map[string]*DeliveryDimension{
		"pace":       &da.Dimensions.Pace,
		"fillers":    &da.Dimensions.Fillers,
		"structure":  &da.Dimensions.Structure,
		"confidence": &da.Dimensions.Confidence,
	} {
		d, err := parseDimension(dims, name)
		if err != nil {
			return DeliveryAssessment{}, err
		}
		*dst = d
	}

	if err := requireString(fields, "summary", &da.Summary); err != nil {
		return DeliveryAssessment{}, err
	}
	if err := requireStrings(fields, "coaching", &da.Coaching); err != nil {
		return DeliveryAssessment{}, err
	}
	if len(da.Coaching) > maxDeliveryCoaching {
		return DeliveryAssessment{}, fmt.Errorf("coaching: %d items, at most %d allowed", len(da.Coaching), maxDeliveryCoaching)
	}
	return da, nil
}

func parseDimension(dims map[string]json.RawMessage, name string) (DeliveryDimension, error) {
	raw, ok := dims[name]
	if !ok || isNull(raw) {
		return DeliveryDimension{}, fmt.Errorf("dimensions.%s: required", name)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return DeliveryDimension{}, fmt.Errorf("dimensions.%s: %w", name, err)
	}
	var d DeliveryDimension
	if err := requireString(fields, "rating", &d.Rating); err != nil {
		return DeliveryDimension{}, fmt.Errorf("dimensions.%s.%w", name, err)
	}
	switch d.Rating {
	case RatingStrong, RatingOK, RatingNeedsWork:
	default:
		return DeliveryDimension{}, fmt.Errorf("dimensions.%s.rating: unknown value %q", name, d.Rating)
	}
	if err := requireString(fields, "note", &d.Note); err != nil {
		return DeliveryDimension{}, fmt.Errorf("dimensions.%s.%w", name, err)
	}
	return d, nil
}

func requireString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return fmt.Errorf("%s: required", key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: must be a string", key)
	}
	return nil
}

func requireStrings(fields map[string]json.RawMessage, key string, dst *[]string) error {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return fmt.Errorf("%s: required", key)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%s: must be an array of strings", key)
	}
	if out == nil {
		out = []string{}
	}
	*dst = out
	return nil
}

// optionalScore accepts a missing or null score; anything else must be a number in [1,10].
func optionalScore(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: must be a number", key)
	}
	if v < 1 || v > 10 {
		return nil, fmt.Errorf("%s: %v outside 1-10", key, v)
	}
	return &v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeModelJSON decodes model output, tolerating code fences and prose
// around a single JSON object.
func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := stripCodeFence(trimmed)
	if start := strings.Index(sanitized, "{"); start >= 0 {
		if end := strings.LastIndex(sanitized, "}"); end > start {
			sanitized = sanitized[start : end+1]
		}
	}
	if sanitized == trimmed {
		return directErr
	}
	return json.Unmarshal([]byte(sanitized), target)
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
