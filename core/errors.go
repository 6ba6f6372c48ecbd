package core

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Upstream reference-service errors
	ErrNotFound  = errors.New("resource not found")
	ErrPermanent = errors.New("permanent upstream failure")
	ErrTransient = errors.New("transient upstream failure")

	// Resilience errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Message errors
	ErrMalformedIntent = errors.New("malformed order intent")

	// Store errors
	ErrOrderExists = errors.New("order already exists")

	// Connectivity
	ErrConnectionFailed = errors.New("connection failed")
)

// ValidationError carries the business rule that rejected an order.
// It is classified as permanent so the ledger dead-letters it directly.
type ValidationError struct {
	Code   string // e.g. "CustomerInactive", "InsufficientCredit"
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("order validation rejected: %s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("order validation rejected: %s", e.Code)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrPermanent
}

// IsTransient reports whether an error should advance the retry path.
// Transient errors are network-level or availability issues that may
// succeed on a later attempt. An open circuit counts as transient so
// processing resumes once the breaker closes.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether an error can never succeed on retry.
// Permanent failures skip the retry counter and dead-letter immediately.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermanent) ||
		errors.Is(err, ErrMalformedIntent)
}

// IsNotFound reports whether an error represents a missing reference record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
