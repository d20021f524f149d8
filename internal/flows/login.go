package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/guardian/domain"
	"go.uber.org/zap"
)

// LoginInput is the flow-local login request.
// TOTPCode is checked only for accounts with a second factor enabled.
type LoginInput struct {
	Email      string
	Password   string
	TOTPCode   string
	SourceAddr string

	// Validate checks the request shape once the address is known to be allowed.
	Validate func() error
}

// LoginMetrics carries metric IDs used by login.
type LoginMetrics struct {
	Success          int
	Failure          int
	IPBlocked        int
	LockedRejected   int
	AutoUnlocked     int
	PasswordUpgraded int
	TOTPFailure      int
	TOTPRequired     int
}

// LoginEvents carries audit event names used by login.
type LoginEvents struct {
	Success        string
	Failure        string
	IPBlocked      string
	LockedRejected string
	AutoUnlocked   string
	TOTPFailure    string
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Core
	VerifyPassword       func(raw, encoded string) (bool, error)
	PasswordNeedsUpgrade func(encoded string) (bool, error)
	HashPassword         func(raw string) (string, error)
	UpgradeOnLogin       bool
	VerifyTOTP           TOTPVerifier

	Failures FailedAttemptDeps
	Metrics  LoginMetrics
	Events   LoginEvents
}

// RunLogin checks the address, the account lock, the password and, when
// enabled, the one-time code, in that order. On success it resets the
// account and rotates its tokens. A wrong code counts against the account
// and the address exactly like a wrong password.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*domain.TokenPair, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	if deps.VerifyPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email := NormalizeEmail(in.Email)
	ip := in.SourceAddr

	if deps.Throttle.IsBlocked(ctx, ip) {
		deps.Hooks.MetricInc(deps.Metrics.IPBlocked)
		deps.Hooks.EmitAudit(ctx, deps.Events.IPBlocked, false, "", email, ip, deps.Errors.IPBlocked, nil)
		return nil, deps.Errors.IPBlocked
	}
	if in.Validate != nil {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}

	acct, err := deps.Store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("load account: %w", err)
		}
		deps.Throttle.RegisterFailedAttempt(ctx, ip)
		deps.Hooks.MetricInc(deps.Metrics.Failure)
		deps.Hooks.EmitAudit(ctx, deps.Events.Failure, false, "", email, ip, deps.Errors.BadCredentials, func() map[string]string {
			return map[string]string{"reason": "unknown_account"}
		})
		return nil, deps.Errors.BadCredentials
	}

	if acct.Locked {
		acct, err = admitLocked(ctx, &deps, acct, ip)
		if err != nil {
			return nil, err
		}
	}

	ok, err := deps.VerifyPassword(in.Password, acct.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, rejectCredentials(ctx, &deps, acct, ip, "bad_password", deps.Errors.BadCredentials)
	}

	var totpCounter int64
	if acct.TOTPEnabled {
		totpCounter, err = checkTOTP(ctx, &deps, acct, in.TOTPCode, ip)
		if err != nil {
			return nil, err
		}
	}

	upgraded := upgradeHash(&deps, acct, in.Password)
	verifiedHash := acct.PasswordHash

	var pair *domain.TokenPair
	acct, err = mutateAccount(ctx, &deps.Core, email, func(ctx context.Context, repos domain.Repositories, a *domain.Account) error {
		if a.PasswordHash != verifiedHash {
			return deps.Errors.BadCredentials
		}
		// A concurrent failure may have locked the account since it was read.
		if a.Locked && (deps.Policy.IsPermanent(a) || !deps.Policy.ShouldAutoUnlock(a, deps.Now())) {
			return lockedError(&deps.Core, a)
		}
		if a.TOTPEnabled {
			if totpCounter == 0 {
				return deps.Errors.TOTPRequired
			}
			// A concurrent login may have spent the same step.
			if totpCounter <= a.TOTPLastCounter {
				return errTOTPReplayed
			}
			a.TOTPLastCounter = totpCounter
		}

		deps.Policy.ResetAttempts(a)
		if upgraded != "" {
			a.PasswordHash = upgraded
		}

		p, err := rotate(ctx, &deps.Core, repos, a)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			return nil, deps.Errors.BadCredentials
		}
		if errors.Is(err, errTOTPReplayed) {
			deps.Hooks.MetricInc(deps.Metrics.TOTPFailure)
			return nil, rejectCredentials(ctx, &deps, acct, ip, "totp_replayed", deps.Errors.TOTPInvalid)
		}
		return nil, err
	}

	if upgraded != "" {
		deps.Hooks.MetricInc(deps.Metrics.PasswordUpgraded)
	}
	deps.Hooks.MetricInc(deps.Metrics.Success)
	deps.Hooks.EmitAudit(ctx, deps.Events.Success, true, acct.ID, acct.Email, ip, nil, nil)
	return pair, nil
}

// admitLocked decides whether a locked account may attempt a login. An
// expired temporary lock is lifted and persisted before the password check.
func admitLocked(ctx context.Context, deps *LoginDeps, acct *domain.Account, ip string) (*domain.Account, error) {
	now := deps.Now()
	if deps.Policy.IsPermanent(acct) || !deps.Policy.ShouldAutoUnlock(acct, now) {
		err := lockedError(&deps.Core, acct)
		deps.Hooks.MetricInc(deps.Metrics.LockedRejected)
		deps.Hooks.EmitAudit(ctx, deps.Events.LockedRejected, false, acct.ID, acct.Email, ip, err, func() map[string]string {
			return map[string]string{"lock_count": fmt.Sprint(acct.LockCount)}
		})
		return nil, err
	}

	unlocked, err := mutateAccount(ctx, &deps.Core, acct.Email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		if a.Locked && deps.Policy.ShouldAutoUnlock(a, deps.Now()) && !deps.Policy.IsPermanent(a) {
			deps.Policy.Unlock(a)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			return nil, deps.Errors.BadCredentials
		}
		return nil, err
	}
	if unlocked.Locked {
		return nil, lockedError(&deps.Core, unlocked)
	}

	deps.Hooks.MetricInc(deps.Metrics.AutoUnlocked)
	deps.Hooks.EmitAudit(ctx, deps.Events.AutoUnlocked, true, unlocked.ID, unlocked.Email, ip, nil, func() map[string]string {
		return map[string]string{"lock_count": fmt.Sprint(unlocked.LockCount)}
	})
	return unlocked, nil
}

// rejectCredentials records a failed attempt against the account and the
// address, then returns result.
func rejectCredentials(ctx context.Context, deps *LoginDeps, acct *domain.Account, ip, reason string, result error) error {
	failures := deps.Failures
	failures.Core = deps.Core
	if _, err := RunUpdateFailedAttempts(ctx, acct.Email, ip, failures); err != nil {
		if !errors.Is(err, deps.Errors.AccountNotFound) {
			return fmt.Errorf("record failed attempt: %w", err)
		}
	}
	deps.Throttle.RegisterFailedAttempt(ctx, ip)
	deps.Hooks.MetricInc(deps.Metrics.Failure)
	deps.Hooks.EmitAudit(ctx, deps.Events.Failure, false, acct.ID, acct.Email, ip, result, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return result
}

// checkTOTP verifies code against the account's secret and returns the
// accepted time step. A missing code stops the login without counting a
// failure, since the password was already right.
func checkTOTP(ctx context.Context, deps *LoginDeps, acct *domain.Account, code, ip string) (int64, error) {
	if deps.VerifyTOTP == nil {
		return 0, deps.Errors.EngineNotReady
	}
	if strings.TrimSpace(code) == "" {
		deps.Hooks.MetricInc(deps.Metrics.TOTPRequired)
		deps.Hooks.EmitAudit(ctx, deps.Events.TOTPFailure, false, acct.ID, acct.Email, ip, deps.Errors.TOTPRequired, nil)
		return 0, deps.Errors.TOTPRequired
	}

	ok, counter, err := deps.VerifyTOTP(acct.TOTPSecret, code, deps.Now())
	if err != nil {
		return 0, fmt.Errorf("verify one-time code: %w", err)
	}
	if !ok || counter <= acct.TOTPLastCounter {
		deps.Hooks.MetricInc(deps.Metrics.TOTPFailure)
		reason := "bad_totp"
		if ok {
			reason = "totp_replayed"
		}
		return 0, rejectCredentials(ctx, deps, acct, ip, reason, deps.Errors.TOTPInvalid)
	}
	return counter, nil
}

// upgradeHash rehashes a verified password whose stored form is outdated.
// It runs before any account lock is taken; failures only skip the upgrade.
func upgradeHash(deps *LoginDeps, acct *domain.Account, raw string) string {
	if !deps.UpgradeOnLogin || deps.PasswordNeedsUpgrade == nil || deps.HashPassword == nil {
		return ""
	}
	needs, err := deps.PasswordNeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return ""
	}
	hash, err := deps.HashPassword(raw)
	if err != nil {
		deps.Hooks.Logger.Warn("password upgrade skipped", zap.String("account_id", acct.ID), zap.Error(err))
		return ""
	}
	return hash
}

func lockedError(c *Core, a *domain.Account) error {
	if c.Policy.IsPermanent(a) {
		return c.Errors.LockedPermanent
	}
	secs := c.Policy.SecondsRemaining(a, c.Now())
	if c.Errors.LockedTemporary != nil {
		return c.Errors.LockedTemporary(secs)
	}
	return fmt.Errorf("account locked for %ds", secs)
}
