package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"identity/internal/models"
)

type UserRepository struct {
	q Querier
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{q: db.DB}
}

// WithTx returns a repository bound to the given transaction.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{q: tx}
}

const userColumns = `id, national_id, email, password_hash, status, first_name, last_name,
	phone_number, avatar_ref, resend_count, resend_date, last_email_sent_at, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, national_id, email, password_hash, status, first_name, last_name,
		 phone_number, avatar_ref, resend_count, resend_date, last_email_sent_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.NationalID, u.Email, u.PasswordHash, u.Status, u.FirstName, u.LastName,
		u.PhoneNumber, u.AvatarRef, u.ResendCount, u.ResendDate, u.LastEmailSentAt,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, duplicateUserField(err))
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// duplicateUserField names the column behind a users unique violation so the
// caller can report which identifier is taken.
func duplicateUserField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return "email"
	case strings.Contains(msg, "users.national_id"):
		return "national_id"
	default:
		return "user"
	}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? OR lower(email) = lower(?)`, email, email)
}

func (r *UserRepository) FindByNationalID(ctx context.Context, nationalID string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE national_id = ?`, nationalID)
}

func (r *UserRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE lower(email) = lower(?)`, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking email availability: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) NationalIDTaken(ctx context.Context, nationalID string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE national_id = ?`, nationalID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking national id availability: %w", err)
	}
	return count > 0, nil
}

// ActivateIfPending flips a PENDING user to ACTIVE and assigns the avatar
// reference if one has not been assigned yet. Returns false when the user was
// not PENDING (already active or blocked), without touching the row.
func (r *UserRepository) ActivateIfPending(ctx context.Context, id, avatarRef string, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users
	        SET status = ?, avatar_ref = COALESCE(avatar_ref, ?), updated_at = ?
	      WHERE id = ? AND status = ?`,
		models.StatusActive, avatarRef, now.UTC(), id, models.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("activating user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdateEmail(ctx context.Context, id, email string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET email = ?, updated_at = ? WHERE id = ?`,
		email, now.UTC(), id,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return fmt.Errorf("%w: email", ErrDuplicate)
		}
		return fmt.Errorf("updating email: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) SetStatus(ctx context.Context, id, status string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		status, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return checkRowsAffected(result)
}

// MarkActivationEmailSent records a resend: the caller supplies the new
// counter value and the UTC calendar date it belongs to.
func (r *UserRepository) MarkActivationEmailSent(ctx context.Context, id string, count int, date string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET resend_count = ?, resend_date = ?, last_email_sent_at = ?, updated_at = ? WHERE id = ?`,
		count, date, now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording activation email: %w", err)
	}
	return checkRowsAffected(result)
}

// ProfileUpdate carries the fields to write. A nil pointer means leave the
// column unchanged; SetPhone distinguishes "leave phone alone" from "set
// phone to NULL", since phone_number is legitimately nullable.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	SetPhone    bool
	PhoneNumber *string
	AvatarRef   *string // written only when the column is still NULL
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, now time.Time) error {
	set := []string{"updated_at = ?"}
	args := []any{now.UTC()}

	if upd.FirstName != nil {
		set = append(set, "first_name = ?")
		args = append(args, *upd.FirstName)
	}
	if upd.LastName != nil {
		set = append(set, "last_name = ?")
		args = append(args, *upd.LastName)
	}
	if upd.SetPhone {
		set = append(set, "phone_number = ?")
		args = append(args, upd.PhoneNumber)
	}
	if upd.AvatarRef != nil {
		set = append(set, "avatar_ref = COALESCE(avatar_ref, ?)")
		args = append(args, *upd.AvatarRef)
	}

	args = append(args, id)
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var phone, avatar sql.NullString
	var lastEmailSentAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.NationalID,
		&u.Email,
		&u.PasswordHash,
		&u.Status,
		&u.FirstName,
		&u.LastName,
		&phone,
		&avatar,
		&u.ResendCount,
		&u.ResendDate,
		&lastEmailSentAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.PhoneNumber = nullStringToPtr(phone)
	u.AvatarRef = nullStringToPtr(avatar)
	u.LastEmailSentAt = nullTimeToPtr(lastEmailSentAt)

	return &u, nil
}
