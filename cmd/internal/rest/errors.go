package rest

import (
	"errors"
	"fmt"
)

// ErrUnauthorized marks a 401 from the backend. Callers can match it with
// errors.Is regardless of the wrapping call site.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response carrying the backend's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status=%d", e.Status)
	}
	return fmt.Sprintf("api error: status=%d msg=%q", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *APIError) Unwrap() error {
	if e.Status == 401 {
		return ErrUnauthorized
	}
	return nil
}
