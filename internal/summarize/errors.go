package summarize

import "fmt"

// APIError wraps a non-2xx response from the LLM provider. Retriability is
// decided by the status code: 5xx and 429 are transient; other 4xx are
// permanent configuration/request errors and must not be retried.
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("llm: HTTP %d (%s): %s", e.StatusCode, e.ErrorType, e.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Message)
}

// Retriable reports whether the response that produced this error is worth
// retrying: 429 rate-limiting or any 5xx.
func (e *APIError) Retriable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
