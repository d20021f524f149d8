package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/notify"
	"go.uber.org/zap"
)

// FailedAttemptMetrics carries metric IDs for lockout bookkeeping.
type FailedAttemptMetrics struct {
	AccountLocked int
}

// FailedAttemptEvents carries audit event names for lockout bookkeeping.
type FailedAttemptEvents struct {
	AccountLocked string
}

// FailedAttemptDeps captures the dependencies of the failed-attempt flow.
type FailedAttemptDeps struct {
	Core
	Metrics FailedAttemptMetrics
	Events  FailedAttemptEvents
}

// FailedAttemptOutcome reports the account state after a recorded failure.
type FailedAttemptOutcome struct {
	Account *domain.Account
	Locked  bool
}

// RunUpdateFailedAttempts records one failed credential check in its own
// transaction, so the count survives whatever the caller does next.
func RunUpdateFailedAttempts(ctx context.Context, email, ip string, deps FailedAttemptDeps) (FailedAttemptOutcome, error) {
	if err := deps.prepare(); err != nil {
		return FailedAttemptOutcome{}, err
	}

	var lockedNow bool
	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		lockedNow = deps.Policy.RecordFailedAttempt(a, deps.Now())
		return nil
	})
	if err != nil {
		return FailedAttemptOutcome{}, err
	}

	if lockedNow {
		deps.Hooks.MetricInc(deps.Metrics.AccountLocked)
		deps.Hooks.EmitAudit(ctx, deps.Events.AccountLocked, true, acct.ID, acct.Email, ip, nil, func() map[string]string {
			return map[string]string{
				"lock_count": fmt.Sprint(acct.LockCount),
				"permanent":  fmt.Sprint(deps.Policy.IsPermanent(acct)),
			}
		})
		deps.Hooks.Logger.Warn("account locked",
			zap.String("account_id", acct.ID),
			zap.Int("lock_count", acct.LockCount),
			zap.Bool("permanent", deps.Policy.IsPermanent(acct)),
		)
		deps.Hooks.Notify(notify.Message{
			Kind:        notify.KindAccountLocked,
			At:          deps.Now(),
			AccountID:   acct.ID,
			Email:       acct.Email,
			Name:        acct.Name,
			SourceAddr:  ip,
			LockCount:   acct.LockCount,
			Permanent:   deps.Policy.IsPermanent(acct),
			LockedUntil: lockedUntil(&deps.Core, acct),
		})
	}
	return FailedAttemptOutcome{Account: acct, Locked: lockedNow}, nil
}

// AdminMetrics carries metric IDs for administrative account actions.
type AdminMetrics struct {
	Unlocked  int
	Locked    int
	LockReset int
}

// AdminEvents carries audit event names for administrative account actions.
type AdminEvents struct {
	Unlocked  string
	Locked    string
	LockReset string
}

// AdminDeps captures administrative account dependencies.
type AdminDeps struct {
	Core
	Metrics AdminMetrics
	Events  AdminEvents
}

// RunUnlockAccount lifts a lock and keeps the escalation history.
func RunUnlockAccount(ctx context.Context, email string, deps AdminDeps) (*domain.Account, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		deps.Policy.Unlock(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	deps.Hooks.MetricInc(deps.Metrics.Unlocked)
	deps.Hooks.EmitAudit(ctx, deps.Events.Unlocked, true, acct.ID, acct.Email, "", nil, func() map[string]string {
		return map[string]string{"lock_count": fmt.Sprint(acct.LockCount)}
	})
	return acct, nil
}

// RunResetAccountLock clears every lockout counter, escalation included.
func RunResetAccountLock(ctx context.Context, email string, deps AdminDeps) (*domain.Account, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		deps.Policy.ResetAttempts(a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	deps.Hooks.MetricInc(deps.Metrics.LockReset)
	deps.Hooks.EmitAudit(ctx, deps.Events.LockReset, true, acct.ID, acct.Email, "", nil, nil)
	return acct, nil
}

// RunLockAccount locks the account as of now and retires every live token.
// The lock count is left alone, so the ladder entry for the current count
// sets how long the lock lasts. With no entry it holds until unlocked.
func RunLockAccount(ctx context.Context, email string, deps AdminDeps) (*domain.Account, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	var revoked int
	acct, err := mutateAccount(ctx, &deps.Core, email, func(ctx context.Context, repos domain.Repositories, a *domain.Account) error {
		now := deps.Now()
		a.Locked = true
		a.LockedAt = &now
		a.FailedAttempts = 0
		n, err := deps.Rotator.RevokeAllValid(ctx, repos.Tokens(), a.ID)
		if err != nil {
			return err
		}
		revoked = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	deps.Hooks.MetricInc(deps.Metrics.Locked)
	deps.Hooks.EmitAudit(ctx, deps.Events.Locked, true, acct.ID, acct.Email, "", nil, func() map[string]string {
		return map[string]string{"tokens_revoked": fmt.Sprint(revoked)}
	})
	return acct, nil
}

// RunFindAccount loads an account by email for read-only reporting.
func RunFindAccount(ctx context.Context, email string, deps AdminDeps) (*domain.Account, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	acct, err := deps.Store.Accounts().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, deps.Errors.AccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}
