package rest

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status"`
}
