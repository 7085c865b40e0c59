package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity/internal/models"
)

type TokenRepository struct {
	q Querier
}

func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{q: db.DB}
}

func (r *TokenRepository) WithTx(tx *sql.Tx) *TokenRepository {
	return &TokenRepository{q: tx}
}

// Issue invalidates any prior unconsumed token of the same (user, type) and
// inserts the replacement. Run inside the caller's transaction when the
// issuance must be atomic with other writes.
func (r *TokenRepository) Issue(ctx context.Context, t *models.OneTimeToken) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM one_time_tokens WHERE user_id = ? AND type = ? AND consumed_at IS NULL`,
		t.UserID, t.Type,
	)
	if err != nil {
		return fmt.Errorf("invalidating prior tokens: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO one_time_tokens (id, user_id, token_hash, type, payload, expires_at, consumed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.UserID, t.TokenHash, t.Type, t.Payload, t.ExpiresAt.UTC(), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating token: %w", err)
	}
	return nil
}

// Consume atomically marks the token consumed and returns it. Unknown,
// expired, wrong-type and already-consumed tokens are all ErrNotFound; the
// caller does not learn which. Expired rows touched here are deleted so they
// cannot linger until the next cleanup pass.
func (r *TokenRepository) Consume(ctx context.Context, tokenHash, tokenType string, now time.Time) (*models.OneTimeToken, error) {
	var t models.OneTimeToken
	var payload sql.NullString
	var consumedAt sql.NullTime

	err := r.q.QueryRowContext(ctx,
		`UPDATE one_time_tokens
	        SET consumed_at = ?
	      WHERE token_hash = ?
	        AND type = ?
	        AND consumed_at IS NULL
	        AND expires_at > ?
	  RETURNING id, user_id, token_hash, type, payload, expires_at, consumed_at, created_at`,
		now.UTC(), tokenHash, tokenType, now.UTC(),
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Type, &payload, &t.ExpiresAt, &consumedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Expired tokens are inert; drop the row if that is what blocked us.
		if _, delErr := r.q.ExecContext(ctx,
			`DELETE FROM one_time_tokens WHERE token_hash = ? AND expires_at <= ?`,
			tokenHash, now.UTC(),
		); delErr != nil {
			return nil, fmt.Errorf("deleting expired token: %w", delErr)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming token: %w", err)
	}

	t.Payload = nullStringToPtr(payload)
	t.ConsumedAt = nullTimeToPtr(consumedAt)

	return &t, nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return result.RowsAffected()
}
