package dto

// ErrorResponse is the uniform error body for every endpoint. Meta carries
// structured context such as the existing attempt id on a conflict.
type ErrorResponse struct {
	Message string                 `json:"message"`
	Details []string               `json:"details,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}
