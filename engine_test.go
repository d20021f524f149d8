package guardian

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/lockout"
	"github.com/MrEthical07/guardian/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef-guardian")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	store  *memory.Store
	mr     *miniredis.Miniredis
	clock  *fakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.IPThrottle.MaxAttempts = 100
	return cfg
}

func newTestStore() *memory.Store {
	return memory.New(
		domain.Role{Name: "USER", Privileges: []string{"profile:read"}},
		domain.Role{Name: "ADMIN", Privileges: []string{"profile:read", "accounts:manage"}},
	)
}

func newHarness(t *testing.T, mutate func(*Config), opts ...func(*Builder)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newFakeClock()
	store := newTestStore()

	b := New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: store, mr: mr, clock: clock}
}

func (h *harness) register(t *testing.T, email string) *Account {
	t.Helper()
	acct, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Name:     "Test User",
		Password: testPassword,
	}, "192.0.2.10")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return acct
}

func (h *harness) login(t *testing.T, email string) *TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), LoginRequest{Email: email, Password: testPassword}, "192.0.2.10")
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair
}

func (h *harness) badLogin(email, addr string) error {
	_, err := h.engine.Login(context.Background(), LoginRequest{Email: email, Password: "not-the-password"}, addr)
	return err
}

func (h *harness) account(t *testing.T, email string) *domain.Account {
	t.Helper()
	a, err := h.store.Accounts().FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	return a
}

func (h *harness) liveTokens(t *testing.T, accountID string) []*domain.IssuedToken {
	t.Helper()
	all, err := h.store.Tokens().FindAllValidForAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	var live []*domain.IssuedToken
	for _, tok := range all {
		if tok.Live() {
			live = append(live, tok)
		}
	}
	return live
}

func TestBuildRequiresStore(t *testing.T) {
	cfg := testConfig()
	cfg.IPThrottle.Enabled = false
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestBuildRequiresRedisWhenThrottleEnabled(t *testing.T) {
	_, err := New().WithConfig(testConfig()).WithStore(newTestStore()).Build()
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis requirement, got %v", err)
	}
}

func TestBuildWithoutRedisWhenThrottleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.IPThrottle.Enabled = false
	b := New().WithConfig(cfg).WithStore(newTestStore())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
	if h := engine.Health(context.Background()); h.RedisConfigured {
		t.Fatal("redis should not be reported as configured")
	}
}

func TestZeroEngineNotReady(t *testing.T) {
	var e Engine
	if _, err := e.Login(context.Background(), LoginRequest{Email: "a@b.co", Password: testPassword}, ""); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, ok, err := e.Refresh(context.Background(), "x"); ok || !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got ok=%v err=%v", ok, err)
	}
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.register(t, "Alice@Example.com")

	if acct.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", acct.Email)
	}
	if len(acct.Roles) != 1 || acct.Roles[0] != "USER" {
		t.Fatalf("unexpected roles: %v", acct.Roles)
	}
	if acct.PasswordHash == testPassword || !strings.HasPrefix(acct.PasswordHash, "$argon2id$") {
		t.Fatal("password must be stored as an argon2id hash")
	}
	if acct.Locked || acct.FailedAttempts != 0 || acct.LockCount != 0 {
		t.Fatalf("new account must start unlocked: %+v", acct)
	}
}

func TestRegisterRoleRules(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []struct {
		role string
		want error
	}{
		{role: "ADMIN", want: ErrForbiddenRole},
		{role: "admin", want: ErrForbiddenRole},
		{role: "BOGUS", want: ErrInvalidRole},
		{role: "user", want: nil},
	}
	for i, tc := range cases {
		_, err := h.engine.Register(ctx, RegisterRequest{
			Email:    "role" + string(rune('a'+i)) + "@example.com",
			Password: testPassword,
			Role:     tc.role,
		}, "192.0.2.20")
		if !errors.Is(err, tc.want) && !(tc.want == nil && err == nil) {
			t.Fatalf("role %q: expected %v, got %v", tc.role, tc.want, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "bob@example.com")

	_, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:    "BOB@example.com",
		Password: testPassword,
	}, "192.0.2.10")
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	stats, err := h.engine.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected 1 account, got %d", stats.Total)
	}
}

func TestRegisterByAdmin(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	acct, err := h.engine.RegisterByAdmin(ctx, RegisterRequest{
		Email:    "root@example.com",
		Password: testPassword,
		Role:     "ADMIN",
	})
	if err != nil {
		t.Fatalf("admin register: %v", err)
	}
	if acct.Roles[0] != "ADMIN" {
		t.Fatalf("expected ADMIN role, got %v", acct.Roles)
	}

	_, err = h.engine.RegisterByAdmin(ctx, RegisterRequest{
		Email:    "ghost@example.com",
		Password: testPassword,
		Role:     "BOGUS",
	})
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestRegisterMissingDefaultRole(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	engine, err := New().WithConfig(testConfig()).WithStore(memory.New()).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	_, err = engine.Register(context.Background(), RegisterRequest{Email: "a@example.com", Password: testPassword}, "")
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterRequest{Email: "not-an-email", Password: testPassword}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["email"]; !ok {
		t.Fatalf("expected email field error, got %v", verr.Fields)
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatal("ValidationError must match ErrInvalidRequest")
	}

	_, err = h.engine.Register(ctx, RegisterRequest{Email: "short@example.com", Password: "abc"}, "")
	if !errors.As(err, &verr) || verr.Fields["password"] == "" {
		t.Fatalf("expected password field error, got %v", err)
	}
}

func TestRegisterFromBlockedAddress(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.IPThrottle.MaxAttempts = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.badLogin("nobody@example.com", "203.0.113.7"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: expected ErrBadCredentials, got %v", i, err)
		}
	}
	_, err := h.engine.Register(ctx, RegisterRequest{Email: "new@example.com", Password: testPassword}, "203.0.113.7")
	if !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("expected ErrIPBlocked, got %v", err)
	}

	// Administrative registration ignores the throttle.
	ctx = WithClientIP(ctx, "203.0.113.7")
	if _, err := h.engine.RegisterByAdmin(ctx, RegisterRequest{Email: "new@example.com", Password: testPassword}); err != nil {
		t.Fatalf("admin register from blocked address: %v", err)
	}
}

func TestBlockedAddressIsCheckedBeforeValidation(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.IPThrottle.MaxAttempts = 1 })
	ctx := context.Background()
	const addr = "203.0.113.8"

	_ = h.badLogin("nobody@example.com", addr)

	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "not-an-email"}, addr); !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("register: expected ErrIPBlocked, got %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "not-an-email"}, addr); !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("login: expected ErrIPBlocked, got %v", err)
	}
	if _, err := h.engine.LoginWithTOTP(ctx, LoginWithTOTPRequest{Email: "not-an-email"}, addr); !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("login with code: expected ErrIPBlocked, got %v", err)
	}

	// Other addresses still get field errors.
	var verr *ValidationError
	if _, err := h.engine.Login(ctx, LoginRequest{Email: "not-an-email"}, "203.0.113.9"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "carol@example.com")

	errUnknown := h.badLogin("nobody@example.com", "192.0.2.30")
	errWrong := h.badLogin("carol@example.com", "192.0.2.30")
	if !errors.Is(errUnknown, ErrBadCredentials) || !errors.Is(errWrong, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials twice, got %v and %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("unknown email and wrong password must be indistinguishable")
	}
}

func TestLoginLocksAtThreshold(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "dave@example.com")

	for i := 0; i < lockout.DefaultThreshold; i++ {
		if err := h.badLogin("dave@example.com", "192.0.2.40"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: expected ErrBadCredentials, got %v", i+1, err)
		}
	}

	a := h.account(t, "dave@example.com")
	if !a.Locked || a.LockCount != 1 || a.FailedAttempts != 0 || a.LockedAt == nil {
		t.Fatalf("expected first lock with counter reset, got %+v", a)
	}

	_, err := h.engine.Login(context.Background(), LoginRequest{Email: "dave@example.com", Password: testPassword}, "192.0.2.40")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
	if locked.SecondsRemaining != 60 {
		t.Fatalf("expected 60 seconds remaining, got %d", locked.SecondsRemaining)
	}
	if !errors.Is(err, ErrAccountLockedTemporary) {
		t.Fatal("LockedError must match ErrAccountLockedTemporary")
	}
}

func TestLoginSuccessResetsCounters(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "erin@example.com")

	_ = h.badLogin("erin@example.com", "192.0.2.50")
	_ = h.badLogin("erin@example.com", "192.0.2.50")
	if got := h.account(t, "erin@example.com").FailedAttempts; got != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", got)
	}

	h.login(t, "erin@example.com")
	a := h.account(t, "erin@example.com")
	if a.FailedAttempts != 0 || a.LockCount != 0 || a.Locked {
		t.Fatalf("successful login must clear lock state, got %+v", a)
	}
}

func TestLockoutLadderScenario(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Lockout.Ladder = lockout.Ladder{1: time.Minute}
	})
	h.register(t, "frank@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = h.badLogin("frank@example.com", "192.0.2.60")
	}

	status, err := h.engine.AccountStatus(ctx, "frank@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != "locked_temporary" || status.SecondsRemaining != 60 {
		t.Fatalf("unexpected status: %+v", status)
	}

	h.clock.Advance(61 * time.Second)

	// The expired lock is lifted, but the lock count survives into the
	// next escalation.
	for i := 0; i < 3; i++ {
		if err := h.badLogin("frank@example.com", "192.0.2.60"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d after unlock: expected ErrBadCredentials, got %v", i+1, err)
		}
	}
	a := h.account(t, "frank@example.com")
	if !a.Locked || a.LockCount != 2 {
		t.Fatalf("expected second lock, got %+v", a)
	}

	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.Login(ctx, LoginRequest{Email: "frank@example.com", Password: testPassword}, "192.0.2.60")
	if !errors.Is(err, ErrAccountLockedPermanent) {
		t.Fatalf("expected permanent lock, got %v", err)
	}

	locked, err := h.engine.LockedAccounts(ctx)
	if err != nil {
		t.Fatalf("locked accounts: %v", err)
	}
	if len(locked) != 1 || !locked[0].Permanent || locked[0].State != "locked_permanent" {
		t.Fatalf("unexpected locked list: %+v", locked)
	}
}

func TestLoginAfterLockExpires(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, "gina@example.com")

	for i := 0; i < 3; i++ {
		_ = h.badLogin("gina@example.com", "192.0.2.70")
	}
	h.clock.Advance(time.Minute + time.Second)

	h.login(t, "gina@example.com")
	a := h.account(t, "gina@example.com")
	if a.Locked || a.LockCount != 0 {
		t.Fatalf("expected clean account after login, got %+v", a)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	legacy, err := bcryptHash(testPassword)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := h.store.Accounts().Save(ctx, &domain.Account{
		Email:        "legacy@example.com",
		PasswordHash: legacy,
		Roles:        []string{"USER"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.login(t, "legacy@example.com")
	if got := h.account(t, "legacy@example.com").PasswordHash; !strings.HasPrefix(got, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", got[:7])
	}
	h.login(t, "legacy@example.com")
}
