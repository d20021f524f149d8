package guardian

import (
	"context"
	"time"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/audit"
	"github.com/MrEthical07/guardian/internal/flows"
	"github.com/MrEthical07/guardian/internal/keylock"
	"github.com/MrEthical07/guardian/internal/rate"
	"github.com/MrEthical07/guardian/internal/tokens"
	"github.com/MrEthical07/guardian/internal/totp"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/MrEthical07/guardian/lockout"
	"github.com/MrEthical07/guardian/notify"
	"github.com/MrEthical07/guardian/password"
	"github.com/MrEthical07/guardian/permission"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the authentication core. Build it with New().…Build(); the
// zero value is not usable and every operation returns ErrEngineNotReady.
type Engine struct {
	config      Config
	store       Store
	redis       redis.UniversalClient
	policy      *lockout.Policy
	throttle    *rate.Throttle
	locks       *keylock.Striped
	rotator     *tokens.Rotator
	jwtManager  *jwt.Manager
	hasher      *password.Hasher
	totp        *totp.Manager
	roleManager *permission.RoleManager
	audit       *audit.Dispatcher
	notifier    *notify.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	clock       func() time.Time

	flow flows.Service
}

// Close flushes the audit queue and stops the notification workers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notifier != nil {
		e.notifier.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped returns how many notifications were dropped on a full queue.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil || e.notifier == nil {
		return 0
	}
	return e.notifier.Dropped()
}

// MetricsSnapshot copies the current counters. It is empty while metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration without key material.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	out := cloneConfig(e.config)
	out.JWT.PrivateKey = nil
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// Register creates an account through public self-registration. Only the
// default role may be requested. sourceAddr feeds the address throttle,
// which is consulted before the request is validated.
func (e *Engine) Register(ctx context.Context, req RegisterRequest, sourceAddr string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	return e.flow.Register(ctx, flows.RegisterInput{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		Role:       req.Role,
		SourceAddr: sourceAddr,
		Validate:   func() error { return e.validateRegister(req) },
	})
}

// RegisterByAdmin creates an account with any role the store knows. The
// address throttle does not apply.
func (e *Engine) RegisterByAdmin(ctx context.Context, req RegisterRequest) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	return e.flow.Register(ctx, flows.RegisterInput{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		Role:       req.Role,
		SourceAddr: ClientIPFromContext(ctx),
		ByAdmin:    true,
		Validate:   func() error { return e.validateRegister(req) },
	})
}

func (e *Engine) validateRegister(req RegisterRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	return validatePasswordLength(req.Password, e.config.Password.MinLength)
}

// Login verifies credentials and issues a fresh token pair, retiring every
// token the account held before.
//
// An unknown email and a wrong password both return ErrBadCredentials. A
// locked account returns ErrAccountLockedPermanent or a *LockedError. An
// account with a second factor returns ErrTOTPRequired after a correct
// password; use LoginWithTOTP for it.
func (e *Engine) Login(ctx context.Context, req LoginRequest, sourceAddr string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	return e.login(ctx, flows.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		SourceAddr: sourceAddr,
		Validate:   func() error { return validateRequest(req) },
	})
}

// LoginWithTOTP is Login with a one-time code. The code is ignored for
// accounts without a second factor. A wrong or reused code returns
// ErrTOTPInvalid and counts against the account and the address like a
// wrong password.
func (e *Engine) LoginWithTOTP(ctx context.Context, req LoginWithTOTPRequest, sourceAddr string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	return e.login(ctx, flows.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.Code,
		SourceAddr: sourceAddr,
		Validate:   func() error { return validateRequest(req) },
	})
}

func (e *Engine) login(ctx context.Context, in flows.LoginInput) (*TokenPair, error) {
	start := time.Now()
	pair, err := e.flow.Login(ctx, in)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricLoginLatency, time.Since(start))
	}
	return pair, err
}

// Refresh exchanges a refresh token for a new pair. ok is false for every
// rejected token, whatever the reason; err is set only when the store
// failed. The value may carry a "Bearer " prefix.
func (e *Engine) Refresh(ctx context.Context, presented string) (pair *TokenPair, ok bool, err error) {
	if !e.ready() {
		return nil, false, ErrEngineNotReady
	}

	res := e.flow.Refresh(ctx, presented)
	switch res.Failure {
	case flows.RefreshFailureNone:
		return res.Pair, true, nil
	case flows.RefreshFailureStore:
		e.logger.Error("refresh failed",
			zap.String("token", res.Fingerprint),
			zap.String("account_id", res.AccountID),
			zap.Error(res.Err))
		return nil, false, res.Err
	default:
		e.logger.Debug("refresh rejected",
			zap.String("reason", res.Failure.String()),
			zap.String("token", res.Fingerprint))
		return nil, false, nil
	}
}

// Logout expires and revokes the presented token when the store holds it
// as live. Unknown or already retired tokens are a no-op, and store errors
// are logged rather than returned.
func (e *Engine) Logout(ctx context.Context, presented string) {
	if !e.ready() {
		return
	}

	res := e.flow.Logout(ctx, presented)
	if res.Err != nil {
		e.logger.Warn("logout failed",
			zap.String("token", tokens.Fingerprint(flows.StripBearer(presented))),
			zap.Error(res.Err))
	}
}

// ResetPasswordFromProfile sets a new password for an authenticated
// account, clears all lock state and returns a fresh pair.
func (e *Engine) ResetPasswordFromProfile(ctx context.Context, email, newPassword string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := validatePasswordLength(newPassword, e.config.Password.MinLength); err != nil {
		return nil, err
	}

	return e.flow.ResetPasswordFromProfile(ctx, email, newPassword)
}

// UpdateFailedAttempts records one failed attempt against email in its
// own transaction and locks the account once the threshold is reached.
func (e *Engine) UpdateFailedAttempts(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flow.UpdateFailedAttempts(ctx, email, ClientIPFromContext(ctx))
	return err
}

// UnlockAccount lifts a lock. The lock count is kept, so the next lock
// escalates along the ladder.
func (e *Engine) UnlockAccount(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flow.UnlockAccount(ctx, email)
	return err
}

// LockAccount locks an account administratively and revokes its tokens.
// The lock lasts as long as the ladder entry for the account's current lock
// count; with no entry it holds until UnlockAccount.
func (e *Engine) LockAccount(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flow.LockAccount(ctx, email)
	return err
}

// ResetAccountLock clears every counter, the lock history included.
func (e *Engine) ResetAccountLock(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.flow.ResetAccountLock(ctx, email)
	return err
}

// AccountStatus reports the lock state of one account.
func (e *Engine) AccountStatus(ctx context.Context, email string) (AccountStatus, error) {
	if !e.ready() {
		return AccountStatus{}, ErrEngineNotReady
	}
	acct, err := e.flow.FindAccount(ctx, email)
	if err != nil {
		return AccountStatus{}, err
	}
	return e.statusOf(acct), nil
}

// LockedAccounts lists every account currently flagged as locked.
func (e *Engine) LockedAccounts(ctx context.Context) ([]AccountStatus, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	accounts, err := e.store.Accounts().FindLocked(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccountStatus, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, e.statusOf(a))
	}
	return out, nil
}

// Stats counts all and locked accounts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if !e.ready() {
		return Stats{}, ErrEngineNotReady
	}
	total, locked, err := e.store.Accounts().Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: total, Locked: locked}, nil
}

func (e *Engine) statusOf(a *domain.Account) AccountStatus {
	now := e.now()
	st := AccountStatus{
		Email:          a.Email,
		State:          e.policy.State(a, now).String(),
		Locked:         a.Locked,
		FailedAttempts: a.FailedAttempts,
		LockCount:      a.LockCount,
	}
	if a.LockedAt != nil {
		at := *a.LockedAt
		st.LockedAt = &at
	}
	if a.Locked {
		st.Permanent = e.policy.IsPermanent(a)
		if !st.Permanent {
			st.SecondsRemaining = e.policy.SecondsRemaining(a, now)
		}
	}
	return st
}

// ValidateAccess checks an access token against its signature, its claims
// and the token store, and returns the principal behind it.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	res, err := e.flow.ValidateAccess(ctx, accessToken)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return &Principal{
		AccountID:  res.AccountID,
		Email:      res.Email,
		Name:       res.Name,
		Roles:      res.Roles,
		Privileges: res.Privileges,
		TokenID:    res.TokenID,
	}, nil
}

// RequirePrivilege validates accessToken and checks the principal holds
// privilege.
func (e *Engine) RequirePrivilege(ctx context.Context, accessToken, privilege string) (*Principal, error) {
	p, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !p.HasPrivilege(privilege) {
		return nil, ErrPermissionDenied
	}
	return p, nil
}
