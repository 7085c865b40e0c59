package models

import "time"

// Single-use token types. At most one unconsumed, unexpired token per
// (user, type) exists at any time.
const (
	TokenTypeActivation    = "activation"
	TokenTypePasswordReset = "password_reset"
	TokenTypeEmailChange   = "email_change"
)

type OneTimeToken struct {
	ID         string
	UserID     string
	TokenHash  string
	Type       string
	Payload    *string // e.g. the pending new email for email_change tokens
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// IdempotencyRecord maps a client-supplied key to the registration response
// it originally produced. Written once, read-only afterward.
type IdempotencyRecord struct {
	Key       string
	UserID    string
	Response  string // exact JSON snapshot replayed to the caller
	CreatedAt time.Time
}
