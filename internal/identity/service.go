// Package identity implements the registration state machine and the
// login/refresh/logout session protocol on top of the relational store.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"identity/internal/auth"
	"identity/internal/clock"
	"identity/internal/config"
	"identity/internal/db"
	"identity/internal/email"
	"identity/internal/models"
	"identity/internal/password"
)

// TokenPair is what a successful login, refresh or email verification hands
// back to the client.
type TokenPair struct {
	SessionID        string    `json:"sessionId"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type Service struct {
	database    *db.DB
	users       *db.UserRepository
	sessions    *db.SessionRepository
	tokens      *db.TokenRepository
	idempotency *db.IdempotencyRepository
	jwt         *auth.JWTService
	mail        email.Sender
	clock       clock.Clock

	refreshTTL        time.Duration
	rememberMeTTL     time.Duration
	activationTTL     time.Duration
	passwordResetTTL  time.Duration
	emailChangeTTL    time.Duration
	resendCooldown    time.Duration
	resendDailyCap    int
	passwordPolicy    password.Policy
	baseURL           string
}

func NewService(
	database *db.DB,
	jwtService *auth.JWTService,
	mail email.Sender,
	clk clock.Clock,
	cfg *config.Config,
) *Service {
	return &Service{
		database:    database,
		users:       db.NewUserRepository(database),
		sessions:    db.NewSessionRepository(database),
		tokens:      db.NewTokenRepository(database),
		idempotency: db.NewIdempotencyRepository(database),
		jwt:         jwtService,
		mail:        mail,
		clock:       clk,

		refreshTTL:       cfg.Auth.RefreshTokenTTL,
		rememberMeTTL:    cfg.Auth.RememberMeRefreshTTL,
		activationTTL:    cfg.Auth.ActivationTokenTTL,
		passwordResetTTL: cfg.Auth.PasswordResetTokenTTL,
		emailChangeTTL:   cfg.Auth.EmailChangeTokenTTL,
		resendCooldown:   cfg.Registration.ResendCooldown,
		resendDailyCap:   cfg.Registration.ResendDailyCap,
		passwordPolicy: password.Policy{
			MinLength:        cfg.Password.MinLength,
			RequireLowercase: cfg.Password.RequireLowercase,
			RequireUppercase: cfg.Password.RequireUppercase,
			RequireDigit:     cfg.Password.RequireDigit,
			RequireSymbol:    cfg.Password.RequireSymbol,
		},
		baseURL: cfg.Server.BaseURL,
	}
}

// sessionRefreshTTL returns the refresh lifetime for a session. RememberMe
// is decided once at login and never re-evaluated on rotation.
func (s *Service) sessionRefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberMeTTL
	}
	return s.refreshTTL
}

// createSession opens a new device session and mints the token pair. Runs
// against the given querier so login and email verification can share it
// inside their own transactions.
func (s *Service) createSession(
	ctx context.Context,
	sessions *db.SessionRepository,
	userID string,
	device Device,
	rememberMe bool,
	ip, userAgent string,
) (*TokenPair, error) {
	now := s.clock.Now()

	sessionID, err := db.GenerateID("ses")
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	rawRefresh, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	accessToken, accessExpiresAt, err := s.jwt.IssueAccessToken(userID, sessionID, now)
	if err != nil {
		return nil, err
	}

	refreshExpiresAt := now.Add(s.sessionRefreshTTL(rememberMe))
	sess := &models.Session{
		ID:               sessionID,
		UserID:           userID,
		DeviceID:         device.DeviceID,
		DeviceName:       device.DeviceName,
		Platform:         device.Platform,
		ClientVersion:    device.ClientVersion,
		CurrentHash:      auth.HashToken(rawRefresh),
		RefreshExpiresAt: refreshExpiresAt,
		AccessExpiresAt:  accessExpiresAt,
		RememberMe:       rememberMe,
		IP:               ip,
		UserAgent:        userAgent,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastSeenAt:       now,
	}
	if err := sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	return &TokenPair{
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     rawRefresh,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// issueToken creates a single-use token of the given type, invalidating any
// prior live token of the same type for the user, and returns the raw value.
func (s *Service) issueToken(
	ctx context.Context,
	tokens *db.TokenRepository,
	userID, tokenType string,
	validity time.Duration,
	payload *string,
) (string, error) {
	raw, err := auth.GenerateOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	id, err := db.GenerateID("tok")
	if err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}

	now := s.clock.Now()
	err = tokens.Issue(ctx, &models.OneTimeToken{
		ID:        id,
		UserID:    userID,
		TokenHash: auth.HashToken(raw),
		Type:      tokenType,
		Payload:   payload,
		ExpiresAt: now.Add(validity),
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (s *Service) activationLink(token string) string {
	return s.baseURL + "/activate?token=" + token
}

func (s *Service) passwordResetLink(token string) string {
	return s.baseURL + "/reset-password?token=" + token
}

func (s *Service) emailChangeLink(token string) string {
	return s.baseURL + "/confirm-email?token=" + token
}

// inTx runs fn inside a transaction; fn receives the open *sql.Tx so it can
// bind repositories via WithTx.
func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
