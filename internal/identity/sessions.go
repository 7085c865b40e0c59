package identity

import (
	"context"
	"errors"
	"time"

	"identity/internal/auth"
	"identity/internal/db"
	"identity/internal/models"
)

// Refresh rotates the presented refresh token and mints a fresh access token.
//
// The rotation is a compare-and-swap keyed by the session id and the expected
// current hash; losing that race is reported as an invalid token, never
// retried. A token matching the one retained previous generation is the
// replay signal and gets its own distinct conflict error — the session itself
// stays alive. Anything older matches nothing and is plain invalid.
func (s *Service) Refresh(ctx context.Context, rawRefresh, deviceID, ip, userAgent string) (*TokenPair, error) {
	if rawRefresh == "" {
		return nil, ErrTokenInvalid
	}

	now := s.clock.Now()
	sess, matchedPrev, err := s.sessions.FindByRefreshHash(ctx, auth.HashToken(rawRefresh), now)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}

	// Device binding is checked before the generation, so a stolen token
	// presented from the wrong device is reported as a mismatch even when it
	// is also stale.
	if deviceID != "" && deviceID != sess.DeviceID {
		return nil, ErrDeviceMismatch
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if user.Status == models.StatusBlocked {
		return nil, ErrAccountBlocked
	}

	if matchedPrev {
		return nil, ErrTokenAlreadyRotated
	}
	if !sess.RefreshExpiresAt.After(now) {
		return nil, ErrTokenInvalid
	}

	nextRefresh, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}
	accessToken, accessExpiresAt, err := s.jwt.IssueAccessToken(sess.UserID, sess.ID, now)
	if err != nil {
		return nil, err
	}
	refreshExpiresAt := now.Add(s.sessionRefreshTTL(sess.RememberMe))

	rotated, err := s.sessions.Rotate(ctx,
		sess.ID, sess.CurrentHash, auth.HashToken(nextRefresh),
		refreshExpiresAt, accessExpiresAt, ip, userAgent, now,
	)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Lost the rotation race: someone else already swapped the hash.
		return nil, ErrTokenInvalid
	}

	return &TokenPair{
		SessionID:        sess.ID,
		AccessToken:      accessToken,
		RefreshToken:     nextRefresh,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Logout revokes the session the refresh token is currently bound to.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return ErrTokenInvalid
	}
	_, err := s.sessions.DeleteByCurrentHash(ctx, auth.HashToken(rawRefresh))
	if errors.Is(err, db.ErrNotFound) {
		return ErrTokenInvalid
	}
	return err
}

// LogoutAll revokes every session of the user and reports how many there were.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

// SessionView is one entry of the session listing.
type SessionView struct {
	ID         string `json:"id"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Platform   string `json:"platform"`
	CreatedAt  string `json:"createdAt"`
	LastSeenAt string `json:"lastSeenAt"`
	Current    bool   `json:"current"`
}

// ListSessions returns the user's sessions newest-activity first. When the
// caller's own session id is known it is flagged as the current device.
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:         sess.ID,
			DeviceID:   sess.DeviceID,
			DeviceName: sess.DeviceName,
			Platform:   sess.Platform,
			CreatedAt:  sess.CreatedAt.UTC().Format(time.RFC3339),
			LastSeenAt: sess.LastSeenAt.UTC().Format(time.RFC3339),
			Current:    sess.ID == currentSessionID,
		})
	}
	return views, nil
}

// RevokeSession deletes one of the user's own sessions. A session id owned by
// someone else is indistinguishable from a nonexistent one.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	err := s.sessions.DeleteForUser(ctx, userID, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
