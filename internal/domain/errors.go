package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotTerminal       = errors.New("job is not terminal")
	ErrNotQueued         = errors.New("job is not queued")
)

// CapacityError is returned by job creation when the queue is full.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("queue full, max %d jobs", e.Capacity)
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// FailureKind classifies provider-side failures.
type FailureKind string

const (
	FailureAuth              FailureKind = "auth"
	FailureForbidden         FailureKind = "forbidden"
	FailureRateLimited       FailureKind = "rate_limited"
	FailureServerError       FailureKind = "server_error"
	FailureMalformedResponse FailureKind = "malformed_response"
)

// AdapterError is a classified provider failure. It is recorded on the job and
// never retried automatically.
type AdapterError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Err        error
}

func (e *AdapterError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: provider status %d: %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps a non-2xx provider status to a failure kind.
func ClassifyStatus(code int) FailureKind {
	switch {
	case code == 401:
		return FailureAuth
	case code == 403:
		return FailureForbidden
	case code == 429:
		return FailureRateLimited
	default:
		return FailureServerError
	}
}

// AsAdapterError extracts a classified failure from err. Unclassified errors
// are reported as server errors.
func AsAdapterError(err error) *AdapterError {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	return &AdapterError{Kind: FailureServerError, Err: err}
}
