package identity

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"identity/internal/auth"
	"identity/internal/config"
	"identity/internal/db"
	"identity/internal/email"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeMailer records outbound mail instead of sending it.
type fakeMailer struct {
	mu               sync.Mutex
	activationLinks  []string
	resetLinks       []string
	emailChangeLinks []string
}

var _ email.Sender = (*fakeMailer)(nil)

func (m *fakeMailer) SendActivation(to, link string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activationLinks = append(m.activationLinks, link)
	return nil
}

func (m *fakeMailer) SendPasswordReset(to, link string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLinks = append(m.resetLinks, link)
	return nil
}

func (m *fakeMailer) SendEmailChangeConfirmation(to, newEmail, link string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailChangeLinks = append(m.emailChangeLinks, link)
	return nil
}

func (m *fakeMailer) lastActivationToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.activationLinks) == 0 {
		t.Fatal("no activation email sent")
	}
	return tokenFromLink(t, m.activationLinks[len(m.activationLinks)-1])
}

func (m *fakeMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resetLinks) == 0 {
		t.Fatal("no password reset email sent")
	}
	return tokenFromLink(t, m.resetLinks[len(m.resetLinks)-1])
}

func (m *fakeMailer) lastEmailChangeToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.emailChangeLinks) == 0 {
		t.Fatal("no email change confirmation sent")
	}
	return tokenFromLink(t, m.emailChangeLinks[len(m.emailChangeLinks)-1])
}

func (m *fakeMailer) activationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activationLinks)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	_, token, found := strings.Cut(link, "token=")
	if !found || token == "" {
		t.Fatalf("no token in link %q", link)
	}
	return token
}

func newTestService(t *testing.T) (*Service, *fakeClock, *fakeMailer) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clk := &fakeClock{now: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)}
	mailer := &fakeMailer{}

	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Auth.RememberMeRefreshTTL = 30 * 24 * time.Hour
	cfg.Auth.ActivationTokenTTL = 24 * time.Hour
	cfg.Auth.PasswordResetTokenTTL = time.Hour
	cfg.Auth.EmailChangeTokenTTL = 24 * time.Hour
	cfg.Registration.ResendCooldown = 60 * time.Second
	cfg.Registration.ResendDailyCap = 3
	cfg.Password.MinLength = 8
	cfg.Password.RequireUppercase = true
	cfg.Password.RequireDigit = true

	jwtService := auth.NewJWTService("test-secret-with-at-least-32-chars!!", cfg.Auth.AccessTokenTTL)
	service := NewService(database, jwtService, mailer, clk, cfg)

	return service, clk, mailer
}

func testRegistrationInput(email, nationalID string) RegistrationInput {
	return RegistrationInput{
		Email:      email,
		NationalID: nationalID,
		Password:   "Password1!",
		FirstName:  "Alex",
		LastName:   "Smith",
		Consents: Consents{
			TermsVersion:   "2026-01",
			PrivacyVersion: "2026-01",
		},
	}
}
