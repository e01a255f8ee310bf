package domain

import "errors"

// Every failure returned by the workflow wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrOutOfStock   = errors.New("out of stock")
	ErrConflict     = errors.New("conflict")
)

// IsRetryable reports whether the caller may retry the same action after
// corrective action (restock, backoff).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOutOfStock) || errors.Is(err, ErrConflict)
}
