package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"identity/internal/models"
)

type IdempotencyRepository struct {
	q Querier
}

func NewIdempotencyRepository(db *DB) *IdempotencyRepository {
	return &IdempotencyRepository{q: db.DB}
}

func (r *IdempotencyRepository) WithTx(tx *sql.Tx) *IdempotencyRepository {
	return &IdempotencyRepository{q: tx}
}

// Create stores the key-to-response mapping. The primary key on key resolves
// the race between two concurrent requests bearing the same key: the loser
// gets ErrDuplicate and must re-read the winner's record.
func (r *IdempotencyRepository) Create(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO idempotency_records (key, user_id, response, created_at) VALUES (?, ?, ?, ?)`,
		rec.Key, rec.UserID, rec.Response, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating idempotency record: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Find(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := r.q.QueryRowContext(ctx,
		`SELECT key, user_id, response, created_at FROM idempotency_records WHERE key = ?`,
		key,
	).Scan(&rec.Key, &rec.UserID, &rec.Response, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM idempotency_records WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting stale idempotency records: %w", err)
	}
	return result.RowsAffected()
}
