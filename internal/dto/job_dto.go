package dto

// ProcessRepRequest is the body of the processing job invocation.
type ProcessRepRequest struct {
	RepID string `json:"rep_id"`
}

// OKResponse is returned on success and on idempotent replay.
type OKResponse struct {
	OK bool `json:"ok"`
}

// JobErrorResponse is the classified error body; the class travels in the HTTP status.
type JobErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}
