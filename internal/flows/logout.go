package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/tokens"
)

// LogoutMetrics carries metric IDs used by logout.
type LogoutMetrics struct {
	Success int
	Noop    int
}

// LogoutEvents carries audit event names used by logout.
type LogoutEvents struct {
	Success string
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Core
	Metrics LogoutMetrics
	Events  LogoutEvents
}

// LogoutResult reports whether a live token was retired.
type LogoutResult struct {
	Revoked   bool
	AccountID string
	Err       error
}

// RunLogout retires the presented token if the store knows it and it is
// still live. Unknown, empty or already retired tokens are a no-op.
func RunLogout(ctx context.Context, presented string, deps LogoutDeps) LogoutResult {
	if err := deps.prepare(); err != nil {
		return LogoutResult{Err: err}
	}

	value := StripBearer(presented)
	noop := func() LogoutResult {
		deps.Hooks.MetricInc(deps.Metrics.Noop)
		return LogoutResult{}
	}
	if value == "" {
		return noop()
	}

	found, err := tokens.Lookup(ctx, deps.Store.Tokens(), value)
	if err != nil {
		if isNotFound(err) {
			return noop()
		}
		return LogoutResult{Err: err}
	}
	if !found.Live() {
		return noop()
	}

	unlock := deps.Locks.Lock(found.AccountID)
	defer unlock()

	var revoked bool
	err = deps.Store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		tok, err := tokens.Lookup(ctx, repos.Tokens(), value)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if !tok.Live() {
			return nil
		}
		tok.Expired = true
		tok.Revoked = true
		if err := repos.Tokens().Save(ctx, tok); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		revoked = true
		return nil
	})
	if err != nil {
		return LogoutResult{AccountID: found.AccountID, Err: err}
	}
	if !revoked {
		return noop()
	}

	deps.Hooks.MetricInc(deps.Metrics.Success)
	deps.Hooks.EmitAudit(ctx, deps.Events.Success, true, found.AccountID, "", "", nil, func() map[string]string {
		return map[string]string{"token": tokens.Fingerprint(value), "type": string(found.Type)}
	})
	return LogoutResult{Revoked: true, AccountID: found.AccountID}
}
