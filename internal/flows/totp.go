package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guardian/domain"
)

// TOTPVerifier checks a code and returns the matching time step.
type TOTPVerifier func(secret, code string, now time.Time) (bool, int64, error)

var errTOTPReplayed = errors.New("one-time code already used")

// TOTPSetup is the secret and provisioning URI handed to an authenticator app.
type TOTPSetup struct {
	Secret string
	URI    string
}

// TOTPMetrics carries metric IDs for second-factor management.
type TOTPMetrics struct {
	Enabled  int
	Disabled int
	Failure  int
}

// TOTPEvents carries audit event names for second-factor management.
type TOTPEvents struct {
	SetupRequested string
	Enabled        string
	Disabled       string
	Failure        string
}

// TOTPDeps captures second-factor management dependencies.
type TOTPDeps struct {
	Core
	GenerateSecret func() (string, error)
	ProvisionURI   func(secret, account string) string
	Verify         TOTPVerifier
	Metrics        TOTPMetrics
	Events         TOTPEvents
}

func (d *TOTPDeps) prepareTOTP() error {
	if err := d.prepare(); err != nil {
		return err
	}
	if d.GenerateSecret == nil || d.ProvisionURI == nil || d.Verify == nil {
		return d.Errors.EngineNotReady
	}
	if d.Errors.TOTPNotConfigured == nil {
		d.Errors.TOTPNotConfigured = errors.New("one-time codes not set up")
	}
	return nil
}

// RunSetupTOTP stores a fresh secret as pending. A second factor that was
// already enabled is switched off until the new secret is confirmed.
func RunSetupTOTP(ctx context.Context, email string, deps TOTPDeps) (*TOTPSetup, error) {
	if err := deps.prepareTOTP(); err != nil {
		return nil, err
	}

	secret, err := deps.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		a.TOTPSecret = secret
		a.TOTPEnabled = false
		a.TOTPLastCounter = 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	deps.Hooks.EmitAudit(ctx, deps.Events.SetupRequested, true, acct.ID, acct.Email, "", nil, nil)
	return &TOTPSetup{Secret: secret, URI: deps.ProvisionURI(secret, acct.Email)}, nil
}

// RunEnableTOTP turns on the pending secret once code proves the app holds it.
func RunEnableTOTP(ctx context.Context, email, code string, deps TOTPDeps) error {
	if err := deps.prepareTOTP(); err != nil {
		return err
	}

	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		if a.TOTPSecret == "" {
			return deps.Errors.TOTPNotConfigured
		}
		ok, counter, err := deps.Verify(a.TOTPSecret, code, deps.Now())
		if err != nil {
			return fmt.Errorf("verify one-time code: %w", err)
		}
		if !ok || counter <= a.TOTPLastCounter {
			return deps.Errors.TOTPInvalid
		}
		a.TOTPEnabled = true
		a.TOTPLastCounter = counter
		return nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.TOTPInvalid) {
			deps.Hooks.MetricInc(deps.Metrics.Failure)
			deps.Hooks.EmitAudit(ctx, deps.Events.Failure, false, "", NormalizeEmail(email), "", err, nil)
		}
		return err
	}

	deps.Hooks.MetricInc(deps.Metrics.Enabled)
	deps.Hooks.EmitAudit(ctx, deps.Events.Enabled, true, acct.ID, acct.Email, "", nil, nil)
	return nil
}

// RunDisableTOTP clears the secret and the replay counter.
func RunDisableTOTP(ctx context.Context, email string, deps TOTPDeps) error {
	if err := deps.prepareTOTP(); err != nil {
		return err
	}

	acct, err := mutateAccount(ctx, &deps.Core, email, func(_ context.Context, _ domain.Repositories, a *domain.Account) error {
		a.TOTPSecret = ""
		a.TOTPEnabled = false
		a.TOTPLastCounter = 0
		return nil
	})
	if err != nil {
		return err
	}

	deps.Hooks.MetricInc(deps.Metrics.Disabled)
	deps.Hooks.EmitAudit(ctx, deps.Events.Disabled, true, acct.ID, acct.Email, "", nil, nil)
	return nil
}
