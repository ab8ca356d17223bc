// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Case workflow errors.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")

	// Audit errors.
	ErrComplianceViolation = errors.New("compliance violation")

	// Orchestrator errors.
	ErrOrchestrationFailure = errors.New("orchestration failure")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
// Workflow errors never do: InvalidTransition requires the caller to
// re-read state, Unauthorized and ComplianceViolation are final, and
// orchestration failures are re-triggered by an operator, not a loop.
// Unknown errors are assumed transient.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrComplianceViolation) ||
		errors.Is(err, ErrOrchestrationFailure) ||
		errors.Is(err, ErrNotFound) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return true
}
