package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"identity/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database
}

func createTestUser(t *testing.T, database *DB, nationalID, email string) *models.User {
	t.Helper()

	id, err := GenerateID("usr")
	if err != nil {
		t.Fatalf("GenerateID() error = %v", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           id,
		NationalID:   nationalID,
		Email:        email,
		PasswordHash: "x",
		Status:       models.StatusPending,
		FirstName:    "Test",
		LastName:     "User",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := NewUserRepository(database).Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return user
}
