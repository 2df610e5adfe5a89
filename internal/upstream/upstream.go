// Package upstream talks to the transcription and scoring providers and
// classifies their failures as transient, permanent or quota.
package upstream

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/signals"
)

// Transcriber turns an audio blob into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Scorer runs the content and delivery scoring passes.
type Scorer interface {
	ScoreContent(ctx context.Context, transcript string) (ContentFeedback, error)
	ScoreDelivery(ctx context.Context, transcript string, sig signals.Signals) (DeliveryAssessment, error)
}

// ContentFeedback is the validated result of the content pass.
// Score is nil when the model declined to score.
type ContentFeedback struct {
	Bullets  []string `json:"bullets"`
	Coaching string   `json:"coaching"`
	Score    *float64 `json:"score"`
}

// Delivery ratings.
const (
	RatingStrong    = "strong"
	RatingOK        = "ok"
	RatingNeedsWork = "needs_work"
)

// DeliveryDimension is one qualitative assessment.
type DeliveryDimension struct {
	Rating string `json:"rating"`
	Note   string `json:"note"`
}

type DeliveryDimensions struct {
	Pace       DeliveryDimension `json:"pace"`
	Fillers    DeliveryDimension `json:"fillers"`
	Structure  DeliveryDimension `json:"structure"`
	Confidence DeliveryDimension `json:"confidence"`
}

// DeliveryAssessment is the validated result of the delivery pass.
type DeliveryAssessment struct {
	OverallScore float64            `json:"overall_score"`
	Dimensions   DeliveryDimensions `json:"dimensions"`
	Summary      string             `json:"summary"`
	Coaching     []string           `json:"coaching"`
}
