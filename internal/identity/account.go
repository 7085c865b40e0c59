package identity

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"identity/internal/auth"
	"identity/internal/db"
	"identity/internal/models"
	"identity/internal/password"
)

// ChangePassword verifies the current password, enforces the policy on the
// replacement, and rejects reuse of the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}

	ok, err := password.Verify(current, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if next == current {
		return ErrPasswordReuse
	}
	if reason := s.passwordPolicy.Validate(next); reason != "" {
		return validationErr("newPassword", reason)
	}

	hash, err := password.Hash(next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash, s.clock.Now())
}

// RequestPasswordReset issues a reset token and emails the reset link. An
// unknown email succeeds silently so the endpoint cannot be used to probe for
// accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	addr := NormalizeEmail(rawEmail)
	if err := validateEmail(addr); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, addr)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Status == models.StatusBlocked {
		return nil
	}

	token, err := s.issueToken(ctx, s.tokens, user.ID, models.TokenTypePasswordReset, s.passwordResetTTL, nil)
	if err != nil {
		return err
	}

	if mailErr := s.mail.SendPasswordReset(addr, s.passwordResetLink(token), s.passwordResetTTL); mailErr != nil {
		slog.Error("error sending password reset email", "error", mailErr, "user_id", user.ID)
	}
	return nil
}

// ResetPassword consumes the reset token, rehashes, and revokes every open
// session so a stolen refresh token dies with the old password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, next string) error {
	if rawToken == "" {
		return ErrTokenInvalid
	}
	if reason := s.passwordPolicy.Validate(next); reason != "" {
		return validationErr("newPassword", reason)
	}

	hash, err := password.Hash(next)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		token, err := s.tokens.WithTx(tx).Consume(ctx, auth.HashToken(rawToken), models.TokenTypePasswordReset, now)
		if errors.Is(err, db.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		if err := s.users.WithTx(tx).UpdatePassword(ctx, token.UserID, hash, now); err != nil {
			return err
		}
		_, err = s.sessions.WithTx(tx).DeleteAllForUser(ctx, token.UserID)
		return err
	})
}

// RequestEmailChange issues an email_change token whose payload is the
// pending address, and mails the confirmation link to that address. The
// account's email stays untouched until confirmation.
func (s *Service) RequestEmailChange(ctx context.Context, userID, rawNewEmail string) error {
	addr := NormalizeEmail(rawNewEmail)
	if err := validateEmail(addr); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if addr == user.Email {
		return validationErr("newEmail", "is already the account email")
	}

	if taken, err := s.users.EmailTaken(ctx, addr); err != nil {
		return err
	} else if taken {
		return ErrEmailTaken
	}

	token, err := s.issueToken(ctx, s.tokens, userID, models.TokenTypeEmailChange, s.emailChangeTTL, &addr)
	if err != nil {
		return err
	}

	if mailErr := s.mail.SendEmailChangeConfirmation(addr, addr, s.emailChangeLink(token), s.emailChangeTTL); mailErr != nil {
		slog.Error("error sending email change confirmation", "error", mailErr, "user_id", userID)
	}
	return nil
}

// ConfirmEmailChange consumes the token and swaps the account email to the
// pending address carried in the token payload. An address taken in the
// meantime is a conflict; the token is still spent.
func (s *Service) ConfirmEmailChange(ctx context.Context, rawToken string) (*models.User, error) {
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	now := s.clock.Now()
	var user *models.User

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		token, err := s.tokens.WithTx(tx).Consume(ctx, auth.HashToken(rawToken), models.TokenTypeEmailChange, now)
		if errors.Is(err, db.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		if token.Payload == nil || *token.Payload == "" {
			return ErrTokenInvalid
		}

		users := s.users.WithTx(tx)
		if err := users.UpdateEmail(ctx, token.UserID, *token.Payload, now); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return ErrEmailTaken
			}
			return err
		}

		user, err = users.FindByID(ctx, token.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ProfileInput is the partial profile update. Absent fields are untouched;
// an explicit null clears phoneNumber (the only nullable field here).
type ProfileInput struct {
	FirstName   Optional[string] `json:"firstName"`
	LastName    Optional[string] `json:"lastName"`
	PhoneNumber Optional[string] `json:"phoneNumber"`
}

// ProfileResult reports what actually changed.
type ProfileResult struct {
	User    *models.User `json:"user"`
	Changed []string     `json:"changed"`
}

// CompleteProfile applies the supplied fields to an ACTIVE account. PENDING
// and BLOCKED accounts cannot edit their profile. An avatar reference is
// assigned on the first successful edit if the account somehow lacks one.
func (s *Service) CompleteProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if user.Status != models.StatusActive {
		return nil, ErrProfileLocked
	}

	var upd db.ProfileUpdate
	var changed []string

	if input.FirstName.Set {
		if input.FirstName.Value == nil {
			return nil, validationErr("firstName", "cannot be null")
		}
		name := strings.TrimSpace(*input.FirstName.Value)
		if name == "" {
			return nil, validationErr("firstName", "cannot be empty")
		}
		if name != user.FirstName {
			upd.FirstName = &name
			changed = append(changed, "firstName")
		}
	}
	if input.LastName.Set {
		if input.LastName.Value == nil {
			return nil, validationErr("lastName", "cannot be null")
		}
		name := strings.TrimSpace(*input.LastName.Value)
		if name == "" {
			return nil, validationErr("lastName", "cannot be empty")
		}
		if name != user.LastName {
			upd.LastName = &name
			changed = append(changed, "lastName")
		}
	}
	if input.PhoneNumber.Set {
		if input.PhoneNumber.Value == nil {
			if user.PhoneNumber != nil {
				upd.SetPhone = true
				changed = append(changed, "phoneNumber")
			}
		} else {
			phone := strings.TrimSpace(*input.PhoneNumber.Value)
			if phone == "" {
				return nil, validationErr("phoneNumber", "cannot be empty, use null to clear")
			}
			if user.PhoneNumber == nil || *user.PhoneNumber != phone {
				upd.SetPhone = true
				upd.PhoneNumber = &phone
				changed = append(changed, "phoneNumber")
			}
		}
	}

	if len(changed) == 0 {
		return &ProfileResult{User: user, Changed: []string{}}, nil
	}

	if user.AvatarRef == nil {
		ref := uuid.NewString()
		upd.AvatarRef = &ref
	}

	if err := s.users.UpdateProfile(ctx, userID, upd, s.clock.Now()); err != nil {
		return nil, err
	}

	user, err = s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ProfileResult{User: user, Changed: changed}, nil
}
