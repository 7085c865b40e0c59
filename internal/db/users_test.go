package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"identity/internal/models"
)

func TestCreateReportsWhichIdentifierIsTaken(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	createTestUser(t, database, "197001011234", "taken@example.com")

	now := time.Now().UTC()
	sameEmail := &models.User{
		ID: "usr_email", NationalID: "197001019999", Email: "taken@example.com",
		PasswordHash: "x", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	err := repo.Create(ctx, sameEmail)
	if !errors.Is(err, ErrDuplicate) || !strings.Contains(err.Error(), "email") {
		t.Fatalf("Create(same email) error = %v, want ErrDuplicate naming email", err)
	}

	sameNationalID := &models.User{
		ID: "usr_nid", NationalID: "197001011234", Email: "fresh@example.com",
		PasswordHash: "x", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	err = repo.Create(ctx, sameNationalID)
	if !errors.Is(err, ErrDuplicate) || !strings.Contains(err.Error(), "national_id") {
		t.Fatalf("Create(same national id) error = %v, want ErrDuplicate naming national_id", err)
	}
}

func TestFindByEmailIsCaseInsensitive(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()

	user := createTestUser(t, database, "197001011235", "case@example.com")

	got, err := repo.FindByEmail(ctx, "CASE@Example.COM")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("ID = %q, want %q", got.ID, user.ID)
	}
}

func TestActivateIfPendingIsOneWay(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, database, "197001011236", "activate@example.com")

	activated, err := repo.ActivateIfPending(ctx, user.ID, "avatar-1", now)
	if err != nil {
		t.Fatalf("ActivateIfPending() error = %v", err)
	}
	if !activated {
		t.Fatal("ActivateIfPending() = false, want true")
	}

	got, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Status != models.StatusActive {
		t.Fatalf("Status = %q, want %q", got.Status, models.StatusActive)
	}
	if got.AvatarRef == nil || *got.AvatarRef != "avatar-1" {
		t.Fatalf("AvatarRef = %v, want avatar-1", got.AvatarRef)
	}

	// Second activation is a no-op and does not replace the avatar ref.
	activated, err = repo.ActivateIfPending(ctx, user.ID, "avatar-2", now)
	if err != nil {
		t.Fatalf("second ActivateIfPending() error = %v", err)
	}
	if activated {
		t.Fatal("second ActivateIfPending() = true, want false")
	}
}

func TestUpdateProfileWritesOnlySuppliedFields(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, database, "197001011237", "profile@example.com")

	phone := "+4670000000"
	if err := repo.UpdateProfile(ctx, user.ID, ProfileUpdate{SetPhone: true, PhoneNumber: &phone}, now); err != nil {
		t.Fatalf("UpdateProfile(set phone) error = %v", err)
	}

	newFirst := "Updated"
	if err := repo.UpdateProfile(ctx, user.ID, ProfileUpdate{FirstName: &newFirst}, now); err != nil {
		t.Fatalf("UpdateProfile(first name) error = %v", err)
	}

	got, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.FirstName != "Updated" {
		t.Fatalf("FirstName = %q, want Updated", got.FirstName)
	}
	if got.PhoneNumber == nil || *got.PhoneNumber != phone {
		t.Fatalf("PhoneNumber = %v, want %q (untouched)", got.PhoneNumber, phone)
	}

	// Explicit clear.
	if err := repo.UpdateProfile(ctx, user.ID, ProfileUpdate{SetPhone: true}, now); err != nil {
		t.Fatalf("UpdateProfile(clear phone) error = %v", err)
	}
	got, err = repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.PhoneNumber != nil {
		t.Fatalf("PhoneNumber = %v, want nil", got.PhoneNumber)
	}
}

func TestMarkActivationEmailSent(t *testing.T) {
	database := openTestDB(t)
	repo := NewUserRepository(database)
	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, database, "197001011238", "resend@example.com")

	if err := repo.MarkActivationEmailSent(ctx, user.ID, 3, "2026-08-28", now); err != nil {
		t.Fatalf("MarkActivationEmailSent() error = %v", err)
	}

	got, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.ResendCount != 3 {
		t.Fatalf("ResendCount = %d, want 3", got.ResendCount)
	}
	if got.ResendDate != "2026-08-28" {
		t.Fatalf("ResendDate = %q, want 2026-08-28", got.ResendDate)
	}
	if got.LastEmailSentAt == nil {
		t.Fatal("LastEmailSentAt = nil, want set")
	}
}
