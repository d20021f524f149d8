package guardian

import (
	"context"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/flows"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/MrEthical07/guardian/notify"
)

func newFlowService(e *Engine) flows.Service {
	core := e.flowCore()

	failures := flows.FailedAttemptDeps{
		Core:    core,
		Metrics: flows.FailedAttemptMetrics{AccountLocked: int(MetricAccountLocked)},
		Events:  flows.FailedAttemptEvents{AccountLocked: auditEventAccountLocked},
	}

	return flows.New(flows.Deps{
		Register: flows.RegisterDeps{
			Core:         core,
			HashPassword: e.hasher.Hash,
			DefaultRole:  e.config.Registration.DefaultRole,
			AdminRole:    e.config.Registration.AdminRole,
			Metrics: flows.RegisterMetrics{
				Success:   int(MetricRegisterSuccess),
				Failure:   int(MetricRegisterFailure),
				IPBlocked: int(MetricRegisterIPBlocked),
			},
			Events: flows.RegisterEvents{
				Success:   auditEventRegisterSuccess,
				Failure:   auditEventRegisterFailure,
				IPBlocked: auditEventIPBlocked,
			},
		},
		Login: flows.LoginDeps{
			Core:                 core,
			VerifyPassword:       e.hasher.Matches,
			PasswordNeedsUpgrade: e.hasher.NeedsUpgrade,
			HashPassword:         e.hasher.Hash,
			UpgradeOnLogin:       e.config.Password.UpgradeOnLogin,
			VerifyTOTP:           e.totp.Verify,
			Failures:             failures,
			Metrics: flows.LoginMetrics{
				Success:          int(MetricLoginSuccess),
				Failure:          int(MetricLoginFailure),
				IPBlocked:        int(MetricLoginIPBlocked),
				LockedRejected:   int(MetricLoginLockedRejected),
				AutoUnlocked:     int(MetricLoginAutoUnlocked),
				PasswordUpgraded: int(MetricPasswordUpgraded),
				TOTPFailure:      int(MetricTOTPFailure),
				TOTPRequired:     int(MetricTOTPRequired),
			},
			Events: flows.LoginEvents{
				Success:        auditEventLoginSuccess,
				Failure:        auditEventLoginFailure,
				IPBlocked:      auditEventIPBlocked,
				LockedRejected: auditEventLoginLockedRejected,
				AutoUnlocked:   auditEventAccountAutoUnlocked,
				TOTPFailure:    auditEventTOTPFailure,
			},
		},
		Refresh: flows.RefreshDeps{
			Core:       core,
			ParseToken: e.jwtManager.Parse,
			Metrics: flows.RefreshMetrics{
				Success: int(MetricRefreshSuccess),
				Invalid: int(MetricRefreshInvalid),
			},
			Events: flows.RefreshEvents{
				Success: auditEventRefreshSuccess,
				Invalid: auditEventRefreshInvalid,
			},
		},
		Logout: flows.LogoutDeps{
			Core: core,
			Metrics: flows.LogoutMetrics{
				Success: int(MetricLogout),
				Noop:    int(MetricLogoutNoop),
			},
			Events: flows.LogoutEvents{Success: auditEventLogout},
		},
		PasswordReset: flows.PasswordResetDeps{
			Core:         core,
			HashPassword: e.hasher.Hash,
			Metrics: flows.PasswordResetMetrics{
				Success: int(MetricPasswordResetSuccess),
				Failure: int(MetricPasswordResetFailure),
			},
			Events: flows.PasswordResetEvents{
				Success: auditEventPasswordReset,
				Failure: auditEventPasswordResetFailure,
			},
		},
		FailedAttempts: failures,
		Admin: flows.AdminDeps{
			Core: core,
			Metrics: flows.AdminMetrics{
				Unlocked:  int(MetricAccountUnlocked),
				Locked:    int(MetricAccountAdminLocked),
				LockReset: int(MetricAccountLockReset),
			},
			Events: flows.AdminEvents{
				Unlocked:  auditEventAccountUnlocked,
				Locked:    auditEventAccountAdminLocked,
				LockReset: auditEventAccountLockReset,
			},
		},
		Access: flows.AccessDeps{
			Core:       core,
			ParseToken: e.jwtManager.Parse,
			Metrics: flows.AccessMetrics{
				Success: int(MetricAccessValid),
				Failure: int(MetricAccessInvalid),
			},
			InvalidToken: ErrTokenInvalid,
		},
		TOTP: flows.TOTPDeps{
			Core:           core,
			GenerateSecret: e.totp.GenerateSecret,
			ProvisionURI:   e.totp.ProvisionURI,
			Verify:         e.totp.Verify,
			Metrics: flows.TOTPMetrics{
				Enabled:  int(MetricTOTPEnabled),
				Disabled: int(MetricTOTPDisabled),
				Failure:  int(MetricTOTPFailure),
			},
			Events: flows.TOTPEvents{
				SetupRequested: auditEventTOTPSetupRequested,
				Enabled:        auditEventTOTPEnabled,
				Disabled:       auditEventTOTPDisabled,
				Failure:        auditEventTOTPFailure,
			},
		},
	})
}

func (e *Engine) flowCore() flows.Core {
	return flows.Core{
		Store:    e.store,
		Policy:   e.policy,
		Throttle: e.throttle,
		Locks:    e.locks,
		Rotator:  e.rotator,
		Now:      e.clock,
		Subject:  e.tokenSubject,
		Hooks: flows.Hooks{
			MetricInc: func(id int) {
				e.metricInc(MetricID(id))
			},
			EmitAudit: e.emitAudit,
			Notify:    e.sendNotification,
			Logger:    e.logger,
		},
		Errors: flows.Errors{
			EngineNotReady:  ErrEngineNotReady,
			IPBlocked:       ErrIPBlocked,
			ForbiddenRole:   ErrForbiddenRole,
			InvalidRole:     ErrInvalidRole,
			EmailExists:     ErrEmailExists,
			BadCredentials:  ErrBadCredentials,
			LockedPermanent: ErrAccountLockedPermanent,
			LockedTemporary: newLockedError,
			RoleNotFound:    ErrRoleNotFound,
			AccountNotFound: ErrAccountNotFound,

			TOTPRequired:      ErrTOTPRequired,
			TOTPInvalid:       ErrTOTPInvalid,
			TOTPNotConfigured: ErrTOTPNotConfigured,
		},
	}
}

// tokenSubject resolves the claims carried by every token issued for a.
func (e *Engine) tokenSubject(ctx context.Context, a *domain.Account) (jwt.Subject, error) {
	privileges, err := e.roleManager.Privileges(ctx, a.Roles)
	if err != nil {
		return jwt.Subject{}, err
	}
	return jwt.Subject{
		Email:      a.Email,
		Name:       a.Name,
		Roles:      append([]string(nil), a.Roles...),
		Privileges: privileges,
	}, nil
}

func (e *Engine) sendNotification(msg notify.Message) {
	// A full queue is logged and counted by the dispatcher.
	e.notifier.Send(msg)
}
