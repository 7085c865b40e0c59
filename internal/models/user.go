package models

import "time"

// User lifecycle statuses. PENDING accounts have not confirmed their email;
// BLOCKED accounts are locked out by an external actor and cannot log in.
const (
	StatusPending = "PENDING"
	StatusActive  = "ACTIVE"
	StatusBlocked = "BLOCKED"
)

type User struct {
	ID              string     `json:"id"`
	NationalID      string     `json:"nationalId"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	Status          string     `json:"status"`
	FirstName       string     `json:"firstName,omitempty"`
	LastName        string     `json:"lastName,omitempty"`
	PhoneNumber     *string    `json:"phoneNumber,omitempty"`
	AvatarRef       *string    `json:"avatarRef,omitempty"`
	ResendCount     int        `json:"-"`
	ResendDate      string     `json:"-"` // UTC calendar date the counter belongs to, "2006-01-02"
	LastEmailSentAt *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (u *User) GetAvatarRef() string {
	if u.AvatarRef != nil {
		return *u.AvatarRef
	}
	return ""
}
