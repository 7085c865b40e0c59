package models

import "time"

// Session is one active device login. Refresh tokens are never stored in
// plaintext: CurrentHash holds the hash of the token the client should be
// presenting, PrevHash the hash of the immediately superseded one. Only a
// single prior generation is retained, which is what makes replay of a
// just-rotated token detectable.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"-"`
	DeviceID         string     `json:"deviceId"`
	DeviceName       string     `json:"deviceName,omitempty"`
	Platform         string     `json:"platform"`
	ClientVersion    string     `json:"clientVersion,omitempty"`
	CurrentHash      string     `json:"-"`
	PrevHash         *string    `json:"-"`
	PrevExpiresAt    *time.Time `json:"-"`
	RefreshExpiresAt time.Time  `json:"refreshExpiresAt"`
	AccessExpiresAt  time.Time  `json:"-"`
	RememberMe       bool       `json:"rememberMe"`
	IP               string     `json:"-"`
	UserAgent        string     `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"-"`
	LastSeenAt       time.Time  `json:"lastSeenAt"`
}
