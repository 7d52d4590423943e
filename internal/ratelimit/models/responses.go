package models

// RateLimitExceededResponse is the API response when a caller's bucket is exhausted.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// ServiceOverloadedResponse is the API response when the global throttle is hit.
type ServiceOverloadedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
