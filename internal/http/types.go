package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// FlushResponse is the response body for POST /api/v1/telemetry/flush.
type FlushResponse struct {
	Flushed   int `json:"flushed"`
	Remaining int `json:"remaining"`
}
