package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"identity/internal/models"
)

type actorKey struct{}

// WithActor attaches the acting principal to the context. The HTTP layer sets
// this from the authenticated user, or leaves it unset for anonymous calls.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting principal, or "anonymous".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}

// AuditedService wraps the engine and records a structured event after each
// state-changing operation: who acted, what happened, and how it ended.
// Plain reads pass through unrecorded.
type AuditedService struct {
	*Service
	log *slog.Logger
}

func NewAuditedService(inner *Service, log *slog.Logger) *AuditedService {
	return &AuditedService{Service: inner, log: log}
}

func (a *AuditedService) record(ctx context.Context, operation string, err error, attrs ...any) {
	fields := append([]any{
		"component", "audit",
		"operation", operation,
		"actor", ActorFrom(ctx),
		"outcome", outcome(err),
	}, attrs...)
	if err != nil {
		fields = append(fields, "error_kind", errorKind(err))
		a.log.Warn("audit", fields...)
		return
	}
	a.log.Info("audit", fields...)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "denied"
}

// errorKind maps an engine error to a stable audit label. Unexpected errors
// are all "internal" so log consumers can alert on them.
func errorKind(err error) string {
	var validation *ValidationError
	var rateLimit *RateLimitError
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &rateLimit):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountBlocked):
		return "account_blocked"
	case errors.Is(err, ErrAccountNotActivated):
		return "account_not_activated"
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrNationalIDTaken):
		return "identifier_taken"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid_token"
	case errors.Is(err, ErrTokenAlreadyRotated):
		return "token_replayed"
	case errors.Is(err, ErrDeviceMismatch):
		return "device_mismatch"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrRegistrationNotFound):
		return "not_found"
	case errors.Is(err, ErrProfileLocked):
		return "profile_locked"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}

func (a *AuditedService) StartRegistration(ctx context.Context, input RegistrationInput, idempotencyKey string) (json.RawMessage, error) {
	resp, err := a.Service.StartRegistration(ctx, input, idempotencyKey)
	a.record(ctx, "register.start", err, "email", NormalizeEmail(input.Email))
	return resp, err
}

func (a *AuditedService) ResendActivationEmail(ctx context.Context, nationalID, email string) error {
	err := a.Service.ResendActivationEmail(ctx, nationalID, email)
	a.record(ctx, "register.resend", err, "email", NormalizeEmail(email))
	return err
}

func (a *AuditedService) VerifyEmail(ctx context.Context, token, ip, userAgent string) (*VerifyEmailResult, error) {
	result, err := a.Service.VerifyEmail(ctx, token, ip, userAgent)
	attrs := []any{}
	if result != nil {
		attrs = append(attrs, "user_id", result.User.ID)
	}
	a.record(ctx, "register.verify", err, attrs...)
	return result, err
}

func (a *AuditedService) Login(ctx context.Context, input LoginInput, ip, userAgent string) (*LoginResult, error) {
	result, err := a.Service.Login(ctx, input, ip, userAgent)
	attrs := []any{"ip", ip}
	if result != nil {
		attrs = append(attrs, "user_id", result.User.ID, "session_id", result.Session.SessionID)
	}
	a.record(ctx, "auth.login", err, attrs...)
	return result, err
}

func (a *AuditedService) Refresh(ctx context.Context, rawRefresh, deviceID, ip, userAgent string) (*TokenPair, error) {
	pair, err := a.Service.Refresh(ctx, rawRefresh, deviceID, ip, userAgent)
	attrs := []any{"ip", ip}
	if pair != nil {
		attrs = append(attrs, "session_id", pair.SessionID)
	}
	a.record(ctx, "auth.refresh", err, attrs...)
	return pair, err
}

func (a *AuditedService) Logout(ctx context.Context, rawRefresh string) error {
	err := a.Service.Logout(ctx, rawRefresh)
	a.record(ctx, "auth.logout", err)
	return err
}

func (a *AuditedService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	count, err := a.Service.LogoutAll(ctx, userID)
	a.record(ctx, "auth.logout_all", err, "user_id", userID, "sessions_revoked", count)
	return count, err
}

func (a *AuditedService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	err := a.Service.RevokeSession(ctx, userID, sessionID)
	a.record(ctx, "auth.revoke_session", err, "user_id", userID, "session_id", sessionID)
	return err
}

func (a *AuditedService) ChangePassword(ctx context.Context, userID, current, next string) error {
	err := a.Service.ChangePassword(ctx, userID, current, next)
	a.record(ctx, "account.change_password", err, "user_id", userID)
	return err
}

func (a *AuditedService) RequestPasswordReset(ctx context.Context, email string) error {
	err := a.Service.RequestPasswordReset(ctx, email)
	a.record(ctx, "account.request_password_reset", err, "email", NormalizeEmail(email))
	return err
}

func (a *AuditedService) ResetPassword(ctx context.Context, token, next string) error {
	err := a.Service.ResetPassword(ctx, token, next)
	a.record(ctx, "account.reset_password", err)
	return err
}

func (a *AuditedService) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	err := a.Service.RequestEmailChange(ctx, userID, newEmail)
	a.record(ctx, "account.request_email_change", err, "user_id", userID)
	return err
}

func (a *AuditedService) ConfirmEmailChange(ctx context.Context, token string) (*models.User, error) {
	user, err := a.Service.ConfirmEmailChange(ctx, token)
	attrs := []any{}
	if user != nil {
		attrs = append(attrs, "user_id", user.ID)
	}
	a.record(ctx, "account.confirm_email_change", err, attrs...)
	return user, err
}

func (a *AuditedService) CompleteProfile(ctx context.Context, userID string, input ProfileInput) (*ProfileResult, error) {
	result, err := a.Service.CompleteProfile(ctx, userID, input)
	attrs := []any{"user_id", userID}
	if result != nil {
		attrs = append(attrs, "changed", result.Changed)
	}
	a.record(ctx, "account.complete_profile", err, attrs...)
	return result, err
}
