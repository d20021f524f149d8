package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/notify"
)

// RegisterInput is the flow-local registration request.
type RegisterInput struct {
	Email      string
	Name       string
	Password   string
	Role       string
	SourceAddr string

	// ByAdmin allows any existing role and skips the address check.
	ByAdmin bool
	// Validate checks the request shape once the address is known to be allowed.
	Validate func() error
}

// RegisterMetrics carries metric IDs used by registration.
type RegisterMetrics struct {
	Success   int
	Failure   int
	IPBlocked int
}

// RegisterEvents carries audit event names used by registration.
type RegisterEvents struct {
	Success   string
	Failure   string
	IPBlocked string
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Core
	HashPassword func(raw string) (string, error)
	DefaultRole  string
	AdminRole    string
	Metrics      RegisterMetrics
	Events       RegisterEvents
}

// RunRegister creates an unlocked account with zero counters.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) (*domain.Account, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	if deps.HashPassword == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = domain.RoleUser
	}
	if deps.AdminRole == "" {
		deps.AdminRole = domain.RoleAdmin
	}

	email := NormalizeEmail(in.Email)
	fail := func(err error) (*domain.Account, error) {
		deps.Hooks.MetricInc(deps.Metrics.Failure)
		deps.Hooks.EmitAudit(ctx, deps.Events.Failure, false, "", email, in.SourceAddr, err, nil)
		return nil, err
	}

	if !in.ByAdmin && deps.Throttle.IsBlocked(ctx, in.SourceAddr) {
		deps.Hooks.MetricInc(deps.Metrics.IPBlocked)
		deps.Hooks.EmitAudit(ctx, deps.Events.IPBlocked, false, "", email, in.SourceAddr, deps.Errors.IPBlocked, nil)
		return nil, deps.Errors.IPBlocked
	}
	if in.Validate != nil {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}

	role, err := resolveRole(in, deps)
	if err != nil {
		return fail(err)
	}
	if _, err := deps.Store.Roles().FindByName(ctx, role); err != nil {
		if isNotFound(err) {
			return fail(deps.Errors.RoleNotFound)
		}
		return nil, fmt.Errorf("load role %q: %w", role, err)
	}

	exists, err := deps.Store.Accounts().ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return fail(deps.Errors.EmailExists)
	}

	hash, err := deps.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := deps.Now()
	acct := &domain.Account{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Roles:        []string{role},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = deps.Store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return repos.Accounts().Save(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fail(deps.Errors.EmailExists)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	deps.Hooks.MetricInc(deps.Metrics.Success)
	deps.Hooks.EmitAudit(ctx, deps.Events.Success, true, acct.ID, acct.Email, in.SourceAddr, nil, func() map[string]string {
		return map[string]string{"role": role, "by_admin": fmt.Sprint(in.ByAdmin)}
	})
	deps.Hooks.Notify(notify.Message{
		Kind:       notify.KindAccountRegistered,
		At:         now,
		AccountID:  acct.ID,
		Email:      acct.Email,
		Name:       acct.Name,
		SourceAddr: in.SourceAddr,
	})
	return acct, nil
}

func resolveRole(in RegisterInput, deps RegisterDeps) (string, error) {
	role := strings.ToUpper(strings.TrimSpace(in.Role))
	if role == "" {
		return deps.DefaultRole, nil
	}
	if in.ByAdmin {
		return role, nil
	}
	switch role {
	case deps.DefaultRole:
		return role, nil
	case deps.AdminRole:
		return "", deps.Errors.ForbiddenRole
	default:
		return "", deps.Errors.InvalidRole
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
