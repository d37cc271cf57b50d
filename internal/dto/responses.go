package dto

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type AckResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
