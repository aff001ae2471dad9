package gateway

import "fmt"

// RateLimitError is returned when the provider's rate limit persisted past
// the configured retry budget.
type RateLimitError struct {
	// Retries is the number of retries that were attempted.
	Retries int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d retries", e.Retries)
}

// APIError is returned for a non-success provider status that is not a rate
// limit signal. It is not retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: status %d - %s", e.Status, e.Body)
}
