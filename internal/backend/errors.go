package backend

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnreachable  = errors.New("backend unreachable")
	ErrBackendRejected     = errors.New("backend rejected request")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUnroutableStatus    = errors.New("transaction status has no confirm route")
	ErrInvalidResponse     = errors.New("invalid response from backend")
)

// APIError is a non-2xx answer. It unwraps to one of the sentinel errors above.
type APIError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}
