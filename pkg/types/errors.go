package types

import (
	"errors"
	"fmt"
)

// Error categories shared across components. The HTTP layer maps each
// category to a status code, so business-rule failures must stay
// distinguishable with errors.Is instead of collapsing into generic 500s.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// RateLimitError is returned when a quota or cooldown blocks an action.
// RetryAfter tells clients how long to back off, in seconds.
type RateLimitError struct {
	Resource   string
	Reason     string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s", e.Resource, e.Reason)
}

// SpamRejectedError is returned when the classifier blocks or mutes a
// message. Violations are included for transparency; they never contain
// another user's data.
type SpamRejectedError struct {
	Action     string
	Violations []SpamViolation
}

func (e *SpamRejectedError) Error() string {
	return fmt.Sprintf("message rejected: action=%s violations=%d", e.Action, len(e.Violations))
}
