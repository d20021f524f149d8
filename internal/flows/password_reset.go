package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
)

// PasswordResetMetrics carries metric IDs used by the profile password reset.
type PasswordResetMetrics struct {
	Success int
	Failure int
}

// PasswordResetEvents carries audit event names used by the profile password reset.
type PasswordResetEvents struct {
	Success string
	Failure string
}

// PasswordResetDeps captures password reset dependencies.
type PasswordResetDeps struct {
	Core
	HashPassword func(raw string) (string, error)
	Metrics      PasswordResetMetrics
	Events       PasswordResetEvents
}

// RunResetPasswordFromProfile stores a new password hash, clears every
// lockout counter and rotates tokens, exactly as a fresh login would.
func RunResetPasswordFromProfile(ctx context.Context, email, newPassword string, deps PasswordResetDeps) (*domain.TokenPair, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	if deps.HashPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.Hooks.MetricInc(deps.Metrics.Failure)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var pair *domain.TokenPair
	acct, err := mutateAccount(ctx, &deps.Core, email, func(ctx context.Context, repos domain.Repositories, a *domain.Account) error {
		a.PasswordHash = hash
		deps.Policy.ResetAttempts(a)
		p, err := rotate(ctx, &deps.Core, repos, a)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		deps.Hooks.MetricInc(deps.Metrics.Failure)
		deps.Hooks.EmitAudit(ctx, deps.Events.Failure, false, "", NormalizeEmail(email), "", err, nil)
		return nil, err
	}

	deps.Hooks.MetricInc(deps.Metrics.Success)
	deps.Hooks.EmitAudit(ctx, deps.Events.Success, true, acct.ID, acct.Email, "", nil, nil)
	return pair, nil
}
