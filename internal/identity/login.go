package identity

import (
	"context"
	"errors"
	"strings"

	"identity/internal/db"
	"identity/internal/models"
	"identity/internal/password"
)

// LoginInput identifies the account by exactly one of Email or NationalID.
type LoginInput struct {
	Email      string `json:"email"`
	NationalID string `json:"nationalId"`
	Password   string `json:"password"`
	Device     Device `json:"device"`
	RememberMe bool   `json:"rememberMe"`
}

// LoginResult is the successful login response.
type LoginResult struct {
	User    *models.User `json:"user"`
	Session *TokenPair   `json:"session"`
}

// Login authenticates by email or national id. Unknown identifier and wrong
// password are indistinguishable to the caller; status checks come after the
// password so a probe cannot learn whether a blocked account's password was
// right.
func (s *Service) Login(ctx context.Context, input LoginInput, ip, userAgent string) (*LoginResult, error) {
	hasEmail := strings.TrimSpace(input.Email) != ""
	hasNationalID := strings.TrimSpace(input.NationalID) != ""
	if hasEmail == hasNationalID {
		return nil, validationErr("identifier", "exactly one of email or nationalId is required")
	}
	if input.Password == "" {
		return nil, validationErr("password", "is required")
	}

	device, err := normalizeDevice(input.Device)
	if err != nil {
		return nil, err
	}

	var user *models.User
	if hasEmail {
		user, err = s.users.FindByEmail(ctx, NormalizeEmail(input.Email))
	} else {
		user, err = s.users.FindByNationalID(ctx, strings.TrimSpace(input.NationalID))
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := password.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	switch user.Status {
	case models.StatusActive:
	case models.StatusBlocked:
		return nil, ErrAccountBlocked
	case models.StatusPending:
		return nil, ErrAccountNotActivated
	default:
		return nil, ErrInvalidCredentials
	}

	pair, err := s.createSession(ctx, s.sessions, user.ID, device, input.RememberMe, ip, userAgent)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, Session: pair}, nil
}

// GetCurrentUser loads the authenticated account. A user deleted underneath
// a live access token is Unauthorized, not an internal error.
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
