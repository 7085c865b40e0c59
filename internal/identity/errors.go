package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors for every expected failure. The HTTP layer maps these to
// status codes; anything else propagates as an internal error.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountBlocked       = errors.New("account blocked")
	ErrAccountNotActivated  = errors.New("account not activated")
	ErrEmailTaken           = errors.New("email already registered")
	ErrNationalIDTaken      = errors.New("national id already registered")
	ErrAlreadyVerified      = errors.New("email already verified")
	ErrTokenInvalid         = errors.New("invalid or expired token")
	ErrTokenAlreadyRotated  = errors.New("refresh token already rotated")
	ErrDeviceMismatch       = errors.New("refresh token presented from wrong device")
	ErrSessionNotFound      = errors.New("session not found")
	ErrRegistrationNotFound = errors.New("no matching pending registration")
	ErrProfileLocked        = errors.New("profile locked until account is activated")
	ErrPasswordReuse        = errors.New("new password must differ from current password")
	ErrUnauthorized         = errors.New("unauthorized")
)

// ValidationError reports malformed input. Field names the offending input,
// Reason is safe to surface to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError reports a throttled operation along with how long the
// caller has to wait.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %d seconds", e.RetryAfterSeconds)
}
