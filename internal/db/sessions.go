package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity/internal/models"
)

type SessionRepository struct {
	q Querier
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{q: db.DB}
}

func (r *SessionRepository) WithTx(tx *sql.Tx) *SessionRepository {
	return &SessionRepository{q: tx}
}

const sessionColumns = `id, user_id, device_id, device_name, platform, client_version,
	current_hash, prev_hash, prev_expires_at, refresh_expires_at, access_expires_at,
	remember_me, ip, user_agent, created_at, updated_at, last_seen_at`

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, device_id, device_name, platform, client_version,
		 current_hash, prev_hash, prev_expires_at, refresh_expires_at, access_expires_at,
		 remember_me, ip, user_agent, created_at, updated_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.DeviceID, s.DeviceName, s.Platform, s.ClientVersion,
		s.CurrentHash, s.PrevHash, s.PrevExpiresAt, s.RefreshExpiresAt.UTC(), s.AccessExpiresAt.UTC(),
		s.RememberMe, s.IP, s.UserAgent, s.CreatedAt.UTC(), s.UpdatedAt.UTC(), s.LastSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// FindByRefreshHash locates the session a presented refresh token belongs to.
// matchedPrev reports that the hash matched the superseded generation (an
// unexpired prev_hash), which the caller must treat as a replay signal rather
// than a legitimate rotation. Tokens older than one generation match nothing.
func (r *SessionRepository) FindByRefreshHash(ctx context.Context, hash string, now time.Time) (sess *models.Session, matchedPrev bool, err error) {
	sess, err = r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE current_hash = ?`, hash)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sess, err = r.findOne(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE prev_hash = ? AND prev_expires_at > ?`,
		hash, now.UTC(),
	)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
}

// Rotate performs the refresh rotation as a single conditional update keyed
// by session id AND the expected current hash. When two refreshes race, the
// second sees zero rows affected and must be reported as a stale attempt —
// never silently retried. The superseded hash is retained as prev_hash for
// exactly one generation so its replay stays detectable.
func (r *SessionRepository) Rotate(
	ctx context.Context,
	sessionID, expectedCurrent, nextHash string,
	refreshExpiresAt, accessExpiresAt time.Time,
	ip, userAgent string,
	now time.Time,
) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE sessions
	        SET prev_hash = current_hash,
	            prev_expires_at = ?,
	            current_hash = ?,
	            refresh_expires_at = ?,
	            access_expires_at = ?,
	            ip = ?,
	            user_agent = ?,
	            updated_at = ?,
	            last_seen_at = ?
	      WHERE id = ? AND current_hash = ?`,
		refreshExpiresAt.UTC(), nextHash, refreshExpiresAt.UTC(), accessExpiresAt.UTC(),
		ip, userAgent, now.UTC(), now.UTC(),
		sessionID, expectedCurrent,
	)
	if err != nil {
		return false, fmt.Errorf("rotating session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteByCurrentHash removes the session a refresh token is bound to.
// Unknown tokens are an error, not a no-op: logout of a token that matches
// nothing surfaces client bugs.
func (r *SessionRepository) DeleteByCurrentHash(ctx context.Context, hash string) (*models.Session, error) {
	sess, err := r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE current_hash = ?`, hash)
	if err != nil {
		return nil, err
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND current_hash = ?`, sess.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	return result.RowsAffected()
}

// DeleteForUser removes one session scoped to its owner. A session id that
// belongs to a different user is ErrNotFound, never a cross-user delete.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID, sessionID string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *SessionRepository) ListForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (r *SessionRepository) findOne(ctx context.Context, query string, args ...any) (*models.Session, error) {
	row := r.q.QueryRowContext(ctx, query, args...)
	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func scanSession(scan func(...any) error) (*models.Session, error) {
	var s models.Session
	var prevHash sql.NullString
	var prevExpiresAt sql.NullTime

	err := scan(
		&s.ID,
		&s.UserID,
		&s.DeviceID,
		&s.DeviceName,
		&s.Platform,
		&s.ClientVersion,
		&s.CurrentHash,
		&prevHash,
		&prevExpiresAt,
		&s.RefreshExpiresAt,
		&s.AccessExpiresAt,
		&s.RememberMe,
		&s.IP,
		&s.UserAgent,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	s.PrevHash = nullStringToPtr(prevHash)
	s.PrevExpiresAt = nullTimeToPtr(prevExpiresAt)

	return &s, nil
}
