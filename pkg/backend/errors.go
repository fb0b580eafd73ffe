package backend

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is returned when the outbound rate limiter rejects a request.
	ErrRateLimited = errors.New("request blocked by outbound rate limiter")
)

// ErrorClass represents a classification of backend call errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses from the backend.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// BackendError describes a failed call to one fare backend with enough
// context for the caller to know which dependency failed and why.
type BackendError struct {
	Target     string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend %s error (status %d): %s: %v",
			e.Target, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s backend %s error (status %d): %s",
		e.Target, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx responses will fail again; don't retry
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classify categorizes an error for retry decisions and observability.
// Errors that are not BackendErrors are treated as network failures.
func classify(err error) ErrorClass {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Class
	}
	return ErrorClassNetwork
}
