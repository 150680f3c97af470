package arbiter

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when arbitration is disabled or the backend
	// failed to load.
	ErrUnavailable = errors.New("arbiter: backend unavailable")

	// ErrModelNotFound is returned by the loader when the configured model is
	// not served by the endpoint.
	ErrModelNotFound = errors.New("arbiter: model not found")

	// ErrMalformedVerdict is returned when the model reply cannot be parsed.
	ErrMalformedVerdict = errors.New("arbiter: malformed verdict")
)

// APIError is a non-200 response from the inference endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("arbiter: API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("arbiter: API error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}
