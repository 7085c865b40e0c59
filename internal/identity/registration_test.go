package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"identity/internal/models"
)

func TestStartRegistrationCreatesPendingUser(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	resp, err := service.StartRegistration(ctx, testRegistrationInput("new@example.com", "199001011234"), "")
	if err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	if len(resp) == 0 {
		t.Fatal("empty registration response")
	}

	user, err := service.users.FindByEmail(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if user.Status != models.StatusPending {
		t.Fatalf("Status = %q, want %q", user.Status, models.StatusPending)
	}
	if mailer.activationCount() != 1 {
		t.Fatalf("activation emails = %d, want 1", mailer.activationCount())
	}
}

func TestStartRegistrationIdempotentReplay(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	first, err := service.StartRegistration(ctx, testRegistrationInput("idem@example.com", "199001011235"), "key-123")
	if err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}

	// The replay skips validation and mutation entirely, even with a
	// different payload behind the same key.
	second, err := service.StartRegistration(ctx, testRegistrationInput("other@example.com", "199001019999"), "key-123")
	if err != nil {
		t.Fatalf("replayed StartRegistration() error = %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("replay = %s, want byte-for-byte %s", second, first)
	}

	if taken, _ := service.users.EmailTaken(ctx, "other@example.com"); taken {
		t.Fatal("replay created a second user")
	}
	if mailer.activationCount() != 1 {
		t.Fatalf("activation emails = %d, want 1", mailer.activationCount())
	}
}

func TestStartRegistrationRejectsTakenIdentifiers(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("dup@example.com", "199001011236"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}

	_, err := service.StartRegistration(ctx, testRegistrationInput("dup@example.com", "199001017777"), "")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("error = %v, want ErrEmailTaken", err)
	}

	_, err = service.StartRegistration(ctx, testRegistrationInput("fresh@example.com", "199001011236"), "")
	if !errors.Is(err, ErrNationalIDTaken) {
		t.Fatalf("error = %v, want ErrNationalIDTaken", err)
	}
}

func TestStartRegistrationValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	weak := testRegistrationInput("weak@example.com", "199001011237")
	weak.Password = "short"
	if _, err := service.StartRegistration(ctx, weak, ""); !isValidation(err) {
		t.Fatalf("weak password error = %v, want ValidationError", err)
	}

	badID := testRegistrationInput("badid@example.com", "12345")
	if _, err := service.StartRegistration(ctx, badID, ""); !isValidation(err) {
		t.Fatalf("bad national id error = %v, want ValidationError", err)
	}

	noConsent := testRegistrationInput("noconsent@example.com", "199001011238")
	noConsent.Consents.PrivacyVersion = ""
	if _, err := service.StartRegistration(ctx, noConsent, ""); !isValidation(err) {
		t.Fatalf("missing consent error = %v, want ValidationError", err)
	}
}

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func TestResendCooldown(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("cool@example.com", "199001011239"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	firstToken := mailer.lastActivationToken(t)

	// Inside the cooldown window.
	err := service.ResendActivationEmail(ctx, "199001011239", "cool@example.com")
	var rateLimit *RateLimitError
	if !errors.As(err, &rateLimit) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rateLimit.RetryAfterSeconds <= 0 {
		t.Fatalf("RetryAfterSeconds = %d, want positive", rateLimit.RetryAfterSeconds)
	}

	clk.Advance(61 * time.Second)
	if err := service.ResendActivationEmail(ctx, "199001011239", "cool@example.com"); err != nil {
		t.Fatalf("ResendActivationEmail() after cooldown error = %v", err)
	}
	if mailer.activationCount() != 2 {
		t.Fatalf("activation emails = %d, want 2", mailer.activationCount())
	}

	// Reissue kills the prior token; only the fresh one verifies.
	if _, err := service.VerifyEmail(ctx, firstToken, "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("VerifyEmail(superseded token) error = %v, want ErrTokenInvalid", err)
	}
	if _, err := service.VerifyEmail(ctx, mailer.lastActivationToken(t), "", ""); err != nil {
		t.Fatalf("VerifyEmail(fresh token) error = %v", err)
	}
}

func TestResendDailyCapResetsAtUTCMidnight(t *testing.T) {
	service, clk, _ := newTestService(t)
	ctx := context.Background()

	clk.Set(time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC))
	if _, err := service.StartRegistration(ctx, testRegistrationInput("cap@example.com", "199001011240"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}

	// Daily cap is 3 in the test config.
	for i := 0; i < 3; i++ {
		clk.Advance(61 * time.Second)
		if err := service.ResendActivationEmail(ctx, "199001011240", "cap@example.com"); err != nil {
			t.Fatalf("resend %d error = %v", i+1, err)
		}
	}

	clk.Advance(61 * time.Second)
	err := service.ResendActivationEmail(ctx, "199001011240", "cap@example.com")
	var rateLimit *RateLimitError
	if !errors.As(err, &rateLimit) {
		t.Fatalf("capped resend error = %v, want RateLimitError", err)
	}

	// The counter is keyed to the UTC calendar date: it resets at midnight
	// even though 24 hours have not elapsed.
	clk.Set(time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC))
	if err := service.ResendActivationEmail(ctx, "199001011240", "cap@example.com"); err != nil {
		t.Fatalf("resend after UTC rollover error = %v", err)
	}
}

func TestResendRequiresMatchingPendingUser(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("match@example.com", "199001011241"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	clk.Advance(61 * time.Second)

	// Wrong email for the national id.
	err := service.ResendActivationEmail(ctx, "199001011241", "wrong@example.com")
	if !errors.Is(err, ErrRegistrationNotFound) {
		t.Fatalf("error = %v, want ErrRegistrationNotFound", err)
	}

	// Activated users have nothing to resend.
	if _, err := service.VerifyEmail(ctx, mailer.lastActivationToken(t), "", ""); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	err = service.ResendActivationEmail(ctx, "199001011241", "match@example.com")
	if !errors.Is(err, ErrRegistrationNotFound) {
		t.Fatalf("error after activation = %v, want ErrRegistrationNotFound", err)
	}
}

func TestVerifyEmailIsExactlyOnce(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("verify@example.com", "199001011242"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	token := mailer.lastActivationToken(t)

	result, err := service.VerifyEmail(ctx, token, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	if result.User.Status != models.StatusActive {
		t.Fatalf("Status = %q, want %q", result.User.Status, models.StatusActive)
	}
	if result.User.AvatarRef == nil || *result.User.AvatarRef == "" {
		t.Fatal("AvatarRef not assigned on activation")
	}
	if result.Session == nil || result.Session.RefreshToken == "" {
		t.Fatal("no session pair issued on activation")
	}

	// Consumed tokens are dead.
	if _, err := service.VerifyEmail(ctx, token, "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second VerifyEmail() error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyEmailAlreadyVerifiedConflict(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("conflict@example.com", "199001011243"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	token := mailer.lastActivationToken(t)

	// The account got activated out of band while the token was still live.
	user, err := service.users.FindByEmail(ctx, "conflict@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if _, err := service.users.ActivateIfPending(ctx, user.ID, "avatar", clk.Now()); err != nil {
		t.Fatalf("ActivateIfPending() error = %v", err)
	}

	if _, err := service.VerifyEmail(ctx, token, "", ""); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("VerifyEmail() error = %v, want ErrAlreadyVerified", err)
	}
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("late@example.com", "199001011244"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}
	token := mailer.lastActivationToken(t)

	clk.Advance(25 * time.Hour)
	if _, err := service.VerifyEmail(ctx, token, "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("VerifyEmail(expired) error = %v, want ErrTokenInvalid", err)
	}
}

func TestGetRegistrationStatus(t *testing.T) {
	service, clk, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.StartRegistration(ctx, testRegistrationInput("status@example.com", "199001011245"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}

	status, err := service.GetRegistrationStatus(ctx, "status@example.com")
	if err != nil {
		t.Fatalf("GetRegistrationStatus() error = %v", err)
	}
	if status.Status != models.StatusPending {
		t.Fatalf("Status = %q, want %q", status.Status, models.StatusPending)
	}
	if status.ResendCooldownSeconds <= 0 {
		t.Fatalf("ResendCooldownSeconds = %d, want positive right after registration", status.ResendCooldownSeconds)
	}

	clk.Advance(2 * time.Minute)
	status, err = service.GetRegistrationStatus(ctx, "status@example.com")
	if err != nil {
		t.Fatalf("GetRegistrationStatus() error = %v", err)
	}
	if status.ResendCooldownSeconds != 0 {
		t.Fatalf("ResendCooldownSeconds = %d, want 0 after cooldown", status.ResendCooldownSeconds)
	}

	if _, err := service.GetRegistrationStatus(ctx, "ghost@example.com"); !errors.Is(err, ErrRegistrationNotFound) {
		t.Fatalf("unknown email error = %v, want ErrRegistrationNotFound", err)
	}
}

func TestCheckEmailAvailability(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	available, err := service.CheckEmailAvailability(ctx, "Free@Example.com")
	if err != nil {
		t.Fatalf("CheckEmailAvailability() error = %v", err)
	}
	if !available {
		t.Fatal("available = false, want true")
	}

	if _, err := service.StartRegistration(ctx, testRegistrationInput("free@example.com", "199001011246"), ""); err != nil {
		t.Fatalf("StartRegistration() error = %v", err)
	}

	available, err = service.CheckEmailAvailability(ctx, "FREE@example.com")
	if err != nil {
		t.Fatalf("CheckEmailAvailability() error = %v", err)
	}
	if available {
		t.Fatal("available = true, want false after registration")
	}
}
