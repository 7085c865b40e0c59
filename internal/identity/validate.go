package identity

import (
	"regexp"
	"strings"
)

// Shared, storage-agnostic input validation. Both the registration workflow
// and the auth orchestrator normalize through these helpers so the rules
// exist exactly once.

const nationalIDLength = 12

var (
	emailRegex      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	nationalIDRegex = regexp.MustCompile(`^[0-9]{12}$`)
)

// Platforms a device may report, compared case-insensitively.
var allowedPlatforms = map[string]struct{}{
	"ios":     {},
	"android": {},
	"web":     {},
}

// NormalizeEmail trims and lowercases. Returns "" for unusable input.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return validationErr("email", "is required")
	}
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return validationErr("email", "has invalid format")
	}
	return nil
}

func validateNationalID(nationalID string) error {
	if nationalID == "" {
		return validationErr("nationalId", "is required")
	}
	if !nationalIDRegex.MatchString(nationalID) {
		return validationErr("nationalId", "must be exactly 12 digits")
	}
	return nil
}

// Consents records acceptance of the required agreement versions.
type Consents struct {
	TermsVersion   string `json:"termsVersion"`
	PrivacyVersion string `json:"privacyVersion"`
}

func validateConsents(c Consents) error {
	if strings.TrimSpace(c.TermsVersion) == "" {
		return validationErr("consents", "terms consent is required")
	}
	if strings.TrimSpace(c.PrivacyVersion) == "" {
		return validationErr("consents", "privacy consent is required")
	}
	return nil
}

// Device describes the client install a session is bound to.
type Device struct {
	DeviceID      string `json:"deviceId"`
	DeviceName    string `json:"deviceName"`
	Platform      string `json:"platform"`
	ClientVersion string `json:"clientVersion"`
}

// normalizeDevice trims everything, requires a device id, and restricts the
// platform to the allow-list (stored lowercase).
func normalizeDevice(d Device) (Device, error) {
	d.DeviceID = strings.TrimSpace(d.DeviceID)
	d.DeviceName = strings.TrimSpace(d.DeviceName)
	d.Platform = strings.ToLower(strings.TrimSpace(d.Platform))
	d.ClientVersion = strings.TrimSpace(d.ClientVersion)

	if d.DeviceID == "" {
		return Device{}, validationErr("deviceId", "is required")
	}
	if _, ok := allowedPlatforms[d.Platform]; !ok {
		return Device{}, validationErr("platform", "must be one of ios, android, web")
	}
	return d, nil
}
