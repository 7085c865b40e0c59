package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func loginTestSession(t *testing.T, service *Service, mailer *fakeMailer, email, nationalID string) *TokenPair {
	t.Helper()

	registerAndActivate(t, service, mailer, email, nationalID)
	result, err := service.Login(context.Background(), LoginInput{
		Email:    email,
		Password: "Password1!",
		Device:   testDevice(),
	}, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return result.Session
}

func TestRefreshRotatesTokens(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	pair := loginTestSession(t, service, mailer, "refresh@example.com", "199001031234")

	next, err := service.Refresh(ctx, pair.RefreshToken, "", "10.0.0.2", "agent")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.SessionID != pair.SessionID {
		t.Fatalf("SessionID = %q, want %q (same session)", next.SessionID, pair.SessionID)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The rotated-out token is the replay signal, and the session survives.
	_, err = service.Refresh(ctx, pair.RefreshToken, "", "", "")
	if !errors.Is(err, ErrTokenAlreadyRotated) {
		t.Fatalf("replay error = %v, want ErrTokenAlreadyRotated", err)
	}
	if _, err := service.Refresh(ctx, next.RefreshToken, "", "", ""); err != nil {
		t.Fatalf("Refresh() after replay error = %v, want session alive", err)
	}
}

func TestRefreshTwoGenerationsStaleIsInvalid(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	gen1 := loginTestSession(t, service, mailer, "stale@example.com", "199001031235")
	gen2, err := service.Refresh(ctx, gen1.RefreshToken, "", "", "")
	if err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	if _, err := service.Refresh(ctx, gen2.RefreshToken, "", "", ""); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}

	if _, err := service.Refresh(ctx, gen1.RefreshToken, "", "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("two-generations-stale error = %v, want ErrTokenInvalid", err)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	pair := loginTestSession(t, service, mailer, "doubletap@example.com", "199001031236")

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.Refresh(ctx, pair.RefreshToken, "", "", "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrTokenAlreadyRotated) {
			t.Fatalf("loser error = %v, want invalid or already-rotated", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestRefreshChecksDeviceBinding(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	pair := loginTestSession(t, service, mailer, "bound@example.com", "199001031237")

	_, err := service.Refresh(ctx, pair.RefreshToken, "some-other-device", "", "")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("wrong device error = %v, want ErrDeviceMismatch", err)
	}

	// Matching device id and no device id both pass.
	next, err := service.Refresh(ctx, pair.RefreshToken, "device-1", "", "")
	if err != nil {
		t.Fatalf("Refresh(bound device) error = %v", err)
	}

	// Device mismatch wins over generation on a replayed token.
	_, err = service.Refresh(ctx, pair.RefreshToken, "some-other-device", "", "")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("wrong device on replay error = %v, want ErrDeviceMismatch", err)
	}
	_ = next
}

func TestRefreshExpiredTokenIsInvalid(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	pair := loginTestSession(t, service, mailer, "expired@example.com", "199001031238")

	clk.Advance(8 * 24 * time.Hour)
	if _, err := service.Refresh(ctx, pair.RefreshToken, "", "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired refresh error = %v, want ErrTokenInvalid", err)
	}
}

func TestRememberMeExtendsRefreshLifetime(t *testing.T) {
	service, clk, mailer := newTestService(t)
	ctx := context.Background()

	registerAndActivate(t, service, mailer, "remember@example.com", "199001031239")
	result, err := service.Login(ctx, LoginInput{
		Email:      "remember@example.com",
		Password:   "Password1!",
		Device:     testDevice(),
		RememberMe: true,
	}, "", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// Past the plain TTL, inside the remember-me TTL.
	clk.Advance(8 * 24 * time.Hour)
	if _, err := service.Refresh(ctx, result.Session.RefreshToken, "", "", ""); err != nil {
		t.Fatalf("Refresh() within remember-me window error = %v", err)
	}
}

func TestLogout(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	pair := loginTestSession(t, service, mailer, "bye@example.com", "199001031240")

	if err := service.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := service.Logout(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second Logout() error = %v, want ErrTokenInvalid", err)
	}
	if _, err := service.Refresh(ctx, pair.RefreshToken, "", "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh() after logout error = %v, want ErrTokenInvalid", err)
	}
}

func TestListAndRevokeSessions(t *testing.T) {
	service, _, mailer := newTestService(t)
	ctx := context.Background()

	user := registerAndActivate(t, service, mailer, "multi@example.com", "199001031241")

	login := func(deviceID string) *TokenPair {
		device := testDevice()
		device.DeviceID = deviceID
		result, err := service.Login(ctx, LoginInput{
			Email: "multi@example.com", Password: "Password1!", Device: device,
		}, "", "")
		if err != nil {
			t.Fatalf("Login(%s) error = %v", deviceID, err)
		}
		return result.Session
	}
	phone := login("phone")
	laptop := login("laptop")

	// The activation bootstrap session plus the two logins.
	views, err := service.ListSessions(ctx, user.ID, laptop.SessionID)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("sessions = %d, want 3", len(views))
	}

	currents := 0
	for _, v := range views {
		if v.Current {
			currents++
			if v.ID != laptop.SessionID {
				t.Fatalf("current session = %q, want %q", v.ID, laptop.SessionID)
			}
		}
	}
	if currents != 1 {
		t.Fatalf("current sessions = %d, want 1", currents)
	}

	if err := service.RevokeSession(ctx, user.ID, phone.SessionID); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	if _, err := service.Refresh(ctx, phone.RefreshToken, "", "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh(revoked) error = %v, want ErrTokenInvalid", err)
	}

	// Cross-user revocation is a not-found, never a delete.
	other := registerAndActivate(t, service, mailer, "intruder@example.com", "199001031242")
	if err := service.RevokeSession(ctx, other.ID, laptop.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("cross-user RevokeSession() error = %v, want ErrSessionNotFound", err)
	}

	count, err := service.LogoutAll(ctx, user.ID)
	if err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("LogoutAll() = %d, want 2 remaining sessions revoked", count)
	}
}
