package flows

import (
	"context"

	"github.com/MrEthical07/guardian/domain"
)

// Service is the flow runner the root engine builds once.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Login.Store != nil && s.deps.Login.VerifyPassword != nil
}

func (s Service) Register(ctx context.Context, in RegisterInput) (*domain.Account, error) {
	return RunRegister(ctx, in, s.deps.Register)
}

func (s Service) Login(ctx context.Context, in LoginInput) (*domain.TokenPair, error) {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, presented string) RefreshResult {
	return RunRefresh(ctx, presented, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, presented string) LogoutResult {
	return RunLogout(ctx, presented, s.deps.Logout)
}

func (s Service) ResetPasswordFromProfile(ctx context.Context, email, newPassword string) (*domain.TokenPair, error) {
	return RunResetPasswordFromProfile(ctx, email, newPassword, s.deps.PasswordReset)
}

func (s Service) UpdateFailedAttempts(ctx context.Context, email, ip string) (FailedAttemptOutcome, error) {
	return RunUpdateFailedAttempts(ctx, email, ip, s.deps.FailedAttempts)
}

func (s Service) UnlockAccount(ctx context.Context, email string) (*domain.Account, error) {
	return RunUnlockAccount(ctx, email, s.deps.Admin)
}

func (s Service) LockAccount(ctx context.Context, email string) (*domain.Account, error) {
	return RunLockAccount(ctx, email, s.deps.Admin)
}

func (s Service) ResetAccountLock(ctx context.Context, email string) (*domain.Account, error) {
	return RunResetAccountLock(ctx, email, s.deps.Admin)
}

func (s Service) FindAccount(ctx context.Context, email string) (*domain.Account, error) {
	return RunFindAccount(ctx, email, s.deps.Admin)
}

func (s Service) ValidateAccess(ctx context.Context, presented string) (*AccessResult, error) {
	return RunValidateAccess(ctx, presented, s.deps.Access)
}

func (s Service) SetupTOTP(ctx context.Context, email string) (*TOTPSetup, error) {
	return RunSetupTOTP(ctx, email, s.deps.TOTP)
}

func (s Service) EnableTOTP(ctx context.Context, email, code string) error {
	return RunEnableTOTP(ctx, email, code, s.deps.TOTP)
}

func (s Service) DisableTOTP(ctx context.Context, email string) error {
	return RunDisableTOTP(ctx, email, s.deps.TOTP)
}
