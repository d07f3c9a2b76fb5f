package dto

// ErrorResponse represents an error response. Error carries a short
// machine-readable code, Message the human-readable detail.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
