package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"identity/internal/auth"
	"identity/internal/db"
	"identity/internal/models"
	"identity/internal/password"
)

const resendDateLayout = "2006-01-02"

// RegistrationInput is the payload for starting a registration.
type RegistrationInput struct {
	Email      string   `json:"email"`
	NationalID string   `json:"nationalId"`
	Password   string   `json:"password"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName"`
	Consents   Consents `json:"consents"`
}

// RegistrationResponse is snapshotted verbatim into the idempotency record,
// so a replayed submission returns byte-for-byte the original body.
type RegistrationResponse struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Email  string `json:"email"`
}

// CheckEmailAvailability reports whether the normalized email is unused.
// Read-only.
func (s *Service) CheckEmailAvailability(ctx context.Context, rawEmail string) (bool, error) {
	addr := NormalizeEmail(rawEmail)
	if err := validateEmail(addr); err != nil {
		return false, err
	}
	taken, err := s.users.EmailTaken(ctx, addr)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// StartRegistration validates the payload, creates the PENDING user with its
// activation token and idempotency record in one transaction, and sends the
// activation email. A known idempotency key short-circuits everything and
// replays the stored response unchanged.
func (s *Service) StartRegistration(ctx context.Context, input RegistrationInput, idempotencyKey string) (json.RawMessage, error) {
	if idempotencyKey != "" {
		rec, err := s.idempotency.Find(ctx, idempotencyKey)
		if err == nil {
			return json.RawMessage(rec.Response), nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	input.Email = NormalizeEmail(input.Email)
	if err := validateEmail(input.Email); err != nil {
		return nil, err
	}
	if err := validateNationalID(input.NationalID); err != nil {
		return nil, err
	}
	if err := validateConsents(input.Consents); err != nil {
		return nil, err
	}
	if reason := s.passwordPolicy.Validate(input.Password); reason != "" {
		return nil, validationErr("password", reason)
	}

	if taken, err := s.users.EmailTaken(ctx, input.Email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}
	if taken, err := s.users.NationalIDTaken(ctx, input.NationalID); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrNationalIDTaken
	}

	passwordHash, err := password.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	userID, err := db.GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}

	now := s.clock.Now()
	var activationToken string
	var response []byte

	txErr := s.inTx(ctx, func(tx *sql.Tx) error {
		sentAt := now
		user := &models.User{
			ID:              userID,
			NationalID:      input.NationalID,
			Email:           input.Email,
			PasswordHash:    passwordHash,
			Status:          models.StatusPending,
			FirstName:       input.FirstName,
			LastName:        input.LastName,
			ResendDate:      now.UTC().Format(resendDateLayout),
			LastEmailSentAt: &sentAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.users.WithTx(tx).Create(ctx, user); err != nil {
			return mapDuplicateUser(err)
		}

		var err error
		activationToken, err = s.issueToken(ctx, s.tokens.WithTx(tx), userID, models.TokenTypeActivation, s.activationTTL, nil)
		if err != nil {
			return err
		}

		response, err = json.Marshal(RegistrationResponse{
			UserID: userID,
			Status: models.StatusPending,
			Email:  input.Email,
		})
		if err != nil {
			return fmt.Errorf("encoding registration response: %w", err)
		}

		if idempotencyKey != "" {
			return s.idempotency.WithTx(tx).Create(ctx, &models.IdempotencyRecord{
				Key:       idempotencyKey,
				UserID:    userID,
				Response:  string(response),
				CreatedAt: now,
			})
		}
		return nil
	})
	if txErr != nil {
		// A concurrent request carrying the same idempotency key may have won
		// the race on either unique constraint: replay its stored response.
		if idempotencyKey != "" && isRegistrationConflict(txErr) {
			if rec, findErr := s.idempotency.Find(ctx, idempotencyKey); findErr == nil {
				return json.RawMessage(rec.Response), nil
			}
		}
		return nil, txErr
	}

	// Fire-and-forget: delivery failures are logged, never surfaced.
	if mailErr := s.mail.SendActivation(input.Email, s.activationLink(activationToken), s.activationTTL); mailErr != nil {
		slog.Error("error sending activation email", "error", mailErr, "user_id", userID)
	}

	return response, nil
}

func mapDuplicateUser(err error) error {
	if !errors.Is(err, db.ErrDuplicate) {
		return err
	}
	if strings.Contains(err.Error(), "national_id") {
		return ErrNationalIDTaken
	}
	return ErrEmailTaken
}

func isRegistrationConflict(err error) bool {
	return errors.Is(err, db.ErrDuplicate) ||
		errors.Is(err, ErrEmailTaken) ||
		errors.Is(err, ErrNationalIDTaken)
}

// ResendActivationEmail reissues the activation token for a PENDING user
// matched by both national id and email, subject to a cooldown and a
// per-UTC-day cap.
func (s *Service) ResendActivationEmail(ctx context.Context, nationalID, rawEmail string) error {
	addr := NormalizeEmail(rawEmail)
	if err := validateEmail(addr); err != nil {
		return err
	}
	if err := validateNationalID(nationalID); err != nil {
		return err
	}

	user, err := s.users.FindByNationalID(ctx, nationalID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrRegistrationNotFound
	}
	if err != nil {
		return err
	}
	if user.Email != addr || user.Status != models.StatusPending {
		return ErrRegistrationNotFound
	}

	now := s.clock.Now()
	if user.LastEmailSentAt != nil {
		if elapsed := now.Sub(*user.LastEmailSentAt); elapsed < s.resendCooldown {
			return &RateLimitError{RetryAfterSeconds: ceilSeconds(s.resendCooldown - elapsed)}
		}
	}

	// The counter belongs to a UTC calendar date and resets on rollover,
	// even when fewer than 24 hours have elapsed since the first send.
	today := now.UTC().Format(resendDateLayout)
	count := user.ResendCount
	if user.ResendDate != today {
		count = 0
	}
	if count >= s.resendDailyCap {
		return &RateLimitError{RetryAfterSeconds: secondsUntilNextUTCDay(now)}
	}

	var activationToken string
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var issueErr error
		activationToken, issueErr = s.issueToken(ctx, s.tokens.WithTx(tx), user.ID, models.TokenTypeActivation, s.activationTTL, nil)
		if issueErr != nil {
			return issueErr
		}
		return s.users.WithTx(tx).MarkActivationEmailSent(ctx, user.ID, count+1, today, now)
	})
	if err != nil {
		return err
	}

	if mailErr := s.mail.SendActivation(addr, s.activationLink(activationToken), s.activationTTL); mailErr != nil {
		slog.Error("error sending activation email", "error", mailErr, "user_id", user.ID)
	}

	return nil
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func secondsUntilNextUTCDay(now time.Time) int {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return ceilSeconds(midnight.Sub(utc))
}

// VerifyEmailResult carries the activated account plus a fresh session pair
// for immediate sign-in.
type VerifyEmailResult struct {
	User    *models.User `json:"user"`
	Session *TokenPair   `json:"session"`
}

// VerifyEmail consumes an activation token exactly once: the PENDING owner
// becomes ACTIVE, gets an avatar reference if absent, and receives a fresh
// short-lived session pair. A second call with the same token fails.
func (s *Service) VerifyEmail(ctx context.Context, rawToken, ip, userAgent string) (*VerifyEmailResult, error) {
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	now := s.clock.Now()
	var result VerifyEmailResult

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		token, err := s.tokens.WithTx(tx).Consume(ctx, auth.HashToken(rawToken), models.TokenTypeActivation, now)
		if errors.Is(err, db.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		users := s.users.WithTx(tx)
		user, err := users.FindByID(ctx, token.UserID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}

		switch user.Status {
		case models.StatusActive:
			return ErrAlreadyVerified
		case models.StatusBlocked:
			return ErrAccountBlocked
		}

		activated, err := users.ActivateIfPending(ctx, user.ID, uuid.NewString(), now)
		if err != nil {
			return err
		}
		if !activated {
			return ErrAlreadyVerified
		}

		user, err = users.FindByID(ctx, user.ID)
		if err != nil {
			return err
		}

		// Activation happens in a browser, so the bootstrap session is bound
		// to a web device and gets the short refresh lifetime.
		pair, err := s.createSession(ctx, s.sessions.WithTx(tx), user.ID, Device{
			DeviceID: "web-" + user.ID,
			Platform: "web",
		}, false, ip, userAgent)
		if err != nil {
			return err
		}

		result.User = user
		result.Session = pair
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// RegistrationStatus is the public view of where an email stands in the
// onboarding flow.
type RegistrationStatus struct {
	Status                string `json:"status"`
	ResendCooldownSeconds int    `json:"resendCooldownSeconds"`
}

func (s *Service) GetRegistrationStatus(ctx context.Context, rawEmail string) (*RegistrationStatus, error) {
	addr := NormalizeEmail(rawEmail)
	if err := validateEmail(addr); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, addr)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, err
	}

	remaining := 0
	if user.LastEmailSentAt != nil {
		if elapsed := s.clock.Now().Sub(*user.LastEmailSentAt); elapsed < s.resendCooldown {
			remaining = ceilSeconds(s.resendCooldown - elapsed)
		}
	}

	return &RegistrationStatus{
		Status:                user.Status,
		ResendCooldownSeconds: remaining,
	}, nil
}

// PasswordPolicy exposes the configured policy. Pure configuration read.
func (s *Service) PasswordPolicy() password.Policy {
	return s.passwordPolicy
}

// Limits are the registration throttling knobs. Pure configuration read.
type Limits struct {
	ResendCooldownSeconds   int `json:"resendCooldownSeconds"`
	ResendDailyCap          int `json:"resendDailyCap"`
	ActivationTokenTTLHours int `json:"activationTokenTtlHours"`
}

func (s *Service) Limits() Limits {
	return Limits{
		ResendCooldownSeconds:   int(s.resendCooldown / time.Second),
		ResendDailyCap:          s.resendDailyCap,
		ActivationTokenTTLHours: int(s.activationTTL / time.Hour),
	}
}
