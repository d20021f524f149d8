package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/tokens"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/MrEthical07/guardian/lockout"
	"github.com/MrEthical07/guardian/notify"
	"go.uber.org/zap"
)

// IPThrottle is the per-address failure counter consulted by login and register.
type IPThrottle interface {
	IsBlocked(ctx context.Context, addr string) bool
	RegisterFailedAttempt(ctx context.Context, addr string) bool
}

// AccountLocker serializes work on one account inside this process.
type AccountLocker interface {
	Lock(key string) (unlock func())
}

// Hooks are the engine's side channels. Every field is optional.
type Hooks struct {
	MetricInc func(id int)
	EmitAudit func(ctx context.Context, event string, success bool, accountID, email, ip string, err error, metadata func() map[string]string)
	Notify    func(msg notify.Message)
	Logger    *zap.Logger
}

func (h *Hooks) fill() {
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
	if h.Notify == nil {
		h.Notify = func(notify.Message) {}
	}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
}

// Errors carries the host package sentinels so flows never import it.
type Errors struct {
	EngineNotReady  error
	IPBlocked       error
	ForbiddenRole   error
	InvalidRole     error
	EmailExists     error
	BadCredentials  error
	LockedPermanent error
	LockedTemporary func(secondsRemaining int64) error
	RoleNotFound    error
	AccountNotFound error

	TOTPRequired      error
	TOTPInvalid       error
	TOTPNotConfigured error
}

// Core is shared by every flow.
type Core struct {
	Store    domain.Store
	Policy   *lockout.Policy
	Throttle IPThrottle
	Locks    AccountLocker
	Rotator  *tokens.Rotator
	Now      func() time.Time

	// Subject builds the identity claims for an account, privileges included.
	Subject func(ctx context.Context, account *domain.Account) (jwt.Subject, error)

	Hooks  Hooks
	Errors Errors
}

func (c *Core) prepare() error {
	c.Hooks.fill()
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Throttle == nil {
		c.Throttle = openThrottle{}
	}
	if c.Locks == nil {
		c.Locks = noLocks{}
	}
	if c.Errors.TOTPInvalid == nil {
		c.Errors.TOTPInvalid = c.Errors.BadCredentials
	}
	if c.Errors.TOTPRequired == nil {
		c.Errors.TOTPRequired = c.Errors.BadCredentials
	}
	if c.Store == nil || c.Policy == nil || c.Rotator == nil || c.Subject == nil {
		return c.Errors.EngineNotReady
	}
	return nil
}

type openThrottle struct{}

func (openThrottle) IsBlocked(context.Context, string) bool             { return false }
func (openThrottle) RegisterFailedAttempt(context.Context, string) bool { return false }

type noLocks struct{}

func (noLocks) Lock(string) func() { return func() {} }

// NormalizeEmail is the canonical form used for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StripBearer removes an optional "Bearer " scheme from a presented token.
func StripBearer(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 7 && strings.EqualFold(value[:7], "Bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	return value
}

// mutateAccount runs fn against a locked, freshly read copy of the account
// and saves it in the same transaction. An error from fn aborts everything
// and is returned unchanged.
func mutateAccount(
	ctx context.Context,
	c *Core,
	email string,
	fn func(ctx context.Context, repos domain.Repositories, a *domain.Account) error,
) (*domain.Account, error) {
	found, err := c.Store.Accounts().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, c.Errors.AccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	unlock := c.Locks.Lock(found.ID)
	defer unlock()

	var out *domain.Account
	err = c.Store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		a, err := repos.Accounts().FindByID(ctx, found.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.Errors.AccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}
		if err := fn(ctx, repos, a); err != nil {
			return err
		}
		a.UpdatedAt = c.Now()
		if err := repos.Accounts().Save(ctx, a); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rotate issues a fresh pair for a and retires everything issued before.
func rotate(ctx context.Context, c *Core, repos domain.Repositories, a *domain.Account) (*domain.TokenPair, error) {
	subject, err := c.Subject(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("build token subject: %w", err)
	}
	return c.Rotator.Rotate(ctx, repos.Tokens(), a, subject)
}

func lockedUntil(c *Core, a *domain.Account) *time.Time {
	if a.LockedAt == nil || c.Policy.IsPermanent(a) {
		return nil
	}
	until := a.LockedAt.Add(c.Policy.LockDuration(a))
	return &until
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Deps groups flow dependency sets. The root engine builds this once.
type Deps struct {
	Register       RegisterDeps
	Login          LoginDeps
	Refresh        RefreshDeps
	Logout         LogoutDeps
	PasswordReset  PasswordResetDeps
	FailedAttempts FailedAttemptDeps
	Admin          AdminDeps
	Access         AccessDeps
	TOTP           TOTPDeps
}
