package dto

import "github.com/ahmetcoskunkizilkaya/reptrainer-backend/internal/models"

type CreateRepRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type CreateRepResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RepDetailResponse is the polling/detail read: the rep row plus feedback once ready.
type RepDetailResponse struct {
	Rep      models.Rep          `json:"rep"`
	Feedback *models.RepFeedback `json:"feedback"`
}

type AudioURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

type BetaRequestBody struct {
	Email string `json:"email"`
}
