package guardian

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func bcryptHash(raw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	return string(b), err
}

func TestLoginRotatesTokens(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "hank@example.com")
	ctx := context.Background()

	first := h.login(t, "hank@example.com")
	second := h.login(t, "hank@example.com")

	live := h.liveTokens(t, acct.ID)
	if len(live) != 2 {
		t.Fatalf("expected exactly 2 live tokens, got %d", len(live))
	}
	for _, tok := range live {
		if tok.Value == first.AccessToken || tok.Value == first.RefreshToken {
			t.Fatal("tokens from the first login must be retired")
		}
	}

	if _, err := h.engine.ValidateAccess(ctx, first.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("old access token must be rejected, got %v", err)
	}
	if _, err := h.engine.ValidateAccess(ctx, second.AccessToken); err != nil {
		t.Fatalf("current access token rejected: %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "ivy@example.com")
	ctx := context.Background()

	pair := h.login(t, "ivy@example.com")
	next, ok, err := h.engine.Refresh(ctx, "Bearer "+pair.RefreshToken)
	if err != nil || !ok {
		t.Fatalf("refresh: ok=%v err=%v", ok, err)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatal("refresh must issue new tokens")
	}
	if live := h.liveTokens(t, acct.ID); len(live) != 2 {
		t.Fatalf("expected 2 live tokens after refresh, got %d", len(live))
	}

	// A rotated refresh token can never be used again.
	if _, ok, err := h.engine.Refresh(ctx, pair.RefreshToken); ok || err != nil {
		t.Fatalf("reused refresh token: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := h.engine.Refresh(ctx, next.RefreshToken); !ok {
		t.Fatal("latest refresh token must still work")
	}
}

func TestRefreshRejectionsLookAlike(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "jack@example.com")
	ctx := context.Background()

	pair := h.login(t, "jack@example.com")
	rotated, ok, _ := h.engine.Refresh(ctx, pair.RefreshToken)
	if !ok {
		t.Fatal("initial refresh failed")
	}

	presented := map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"access token": rotated.AccessToken,
		"retired":      pair.RefreshToken,
	}
	for name, value := range presented {
		got, ok, err := h.engine.Refresh(ctx, value)
		if got != nil || ok || err != nil {
			t.Fatalf("%s: expected (nil, false, nil), got (%v, %v, %v)", name, got, ok, err)
		}
	}

	h.clock.Advance(8 * 24 * time.Hour)
	if got, ok, err := h.engine.Refresh(ctx, rotated.RefreshToken); got != nil || ok || err != nil {
		t.Fatalf("expired: expected (nil, false, nil), got (%v, %v, %v)", got, ok, err)
	}
}

func TestRefreshRejectsLockedAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "kate@example.com")
	ctx := context.Background()

	pair := h.login(t, "kate@example.com")
	for i := 0; i < 3; i++ {
		if err := h.engine.UpdateFailedAttempts(ctx, "kate@example.com"); err != nil {
			t.Fatalf("update failed attempts: %v", err)
		}
	}

	if _, ok, err := h.engine.Refresh(ctx, pair.RefreshToken); ok || err != nil {
		t.Fatalf("locked account refresh: ok=%v err=%v", ok, err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "liam@example.com")
	ctx := context.Background()

	pair := h.login(t, "liam@example.com")
	h.engine.Logout(ctx, "Bearer "+pair.AccessToken)
	h.engine.Logout(ctx, pair.AccessToken)
	h.engine.Logout(ctx, "unknown")
	h.engine.Logout(ctx, "")

	if _, err := h.engine.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("logged out token must be rejected, got %v", err)
	}
	live := h.liveTokens(t, acct.ID)
	if len(live) != 1 || live[0].Value != pair.RefreshToken {
		t.Fatalf("logout must retire only the presented token, got %d live", len(live))
	}
}

func TestResetPasswordFromProfile(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "mia@example.com")
	ctx := context.Background()

	old := h.login(t, "mia@example.com")
	_ = h.badLogin("mia@example.com", "192.0.2.80")

	const newPassword = "a-much-better-passphrase"
	pair, err := h.engine.ResetPasswordFromProfile(ctx, "mia@example.com", newPassword)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := h.engine.ValidateAccess(ctx, old.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatal("reset must retire earlier tokens")
	}
	if _, err := h.engine.ValidateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if live := h.liveTokens(t, acct.ID); len(live) != 2 {
		t.Fatalf("expected 2 live tokens, got %d", len(live))
	}
	if a := h.account(t, "mia@example.com"); a.FailedAttempts != 0 {
		t.Fatalf("reset must clear failures, got %d", a.FailedAttempts)
	}

	if err := h.badLogin("mia@example.com", "192.0.2.80"); !errors.Is(err, ErrBadCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "mia@example.com", Password: newPassword}, "192.0.2.80"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if _, err := h.engine.ResetPasswordFromProfile(ctx, "nobody@example.com", newPassword); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	var verr *ValidationError
	if _, err := h.engine.ResetPasswordFromProfile(ctx, "mia@example.com", "short"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateAccessAndPrivileges(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "noah@example.com")
	ctx := context.Background()

	pair := h.login(t, "noah@example.com")
	p, err := h.engine.ValidateAccess(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if p.AccountID != acct.ID || p.Email != "noah@example.com" || !p.HasRole("USER") || !p.HasPrivilege("profile:read") {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := h.engine.RequirePrivilege(ctx, pair.AccessToken, "profile:read"); err != nil {
		t.Fatalf("require held privilege: %v", err)
	}
	if _, err := h.engine.RequirePrivilege(ctx, pair.AccessToken, "accounts:manage"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if _, err := h.engine.ValidateAccess(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token must not validate as access, got %v", err)
	}
	h.clock.Advance(16 * time.Minute)
	if _, err := h.engine.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired access token must be rejected, got %v", err)
	}
}

func TestConcurrentLoginsLeaveOnePair(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "olga@example.com")
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Login(ctx, LoginRequest{Email: "olga@example.com", Password: testPassword}, "192.0.2.90")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent login: %v", err)
		}
	}

	if live := h.liveTokens(t, acct.ID); len(live) != 2 {
		t.Fatalf("expected exactly 2 live tokens, got %d", len(live))
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Lockout.Threshold = 1000
		cfg.IPThrottle.MaxAttempts = 10000
	})
	h.register(t, "pete@example.com")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.badLogin("pete@example.com", "192.0.2.91")
		}()
	}
	wg.Wait()

	if got := h.account(t, "pete@example.com").FailedAttempts; got != n {
		t.Fatalf("expected %d failed attempts, got %d", n, got)
	}
}
