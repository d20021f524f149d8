package guardian

import (
	"errors"
	"time"

	"github.com/MrEthical07/guardian/internal/audit"
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

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	store  Store
	redis  redis.UniversalClient

	roles     map[string][]string
	logger    *zap.Logger
	notifier  notify.Notifier
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithRedis sets the client backing the address throttle. Required while
// IPThrottle is enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRoles seeds the role catalog and freezes it. Without it, roles are
// loaded from the store on first use.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithNotifier sets the target of registration and lock notifications.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithClock overrides the time source of every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login and validation latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("store required")
	}
	if cfg.IPThrottle.Enabled && b.redis == nil {
		return nil, errors.New("redis client required when IPThrottle is enabled")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- ROLE MANAGER --------
	roleManager := permission.NewRoleManager(b.store.Roles())
	if len(b.roles) > 0 {
		for roleName, privileges := range b.roles {
			if err := roleManager.RegisterRole(roleName, privileges); err != nil {
				return nil, err
			}
		}
		roleManager.Freeze()
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	}, jwt.WithClock(clock))
	if err != nil {
		return nil, err
	}

	otp := totp.New(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Digits:    cfg.TOTP.Digits,
		Period:    cfg.TOTP.Period,
		Skew:      cfg.TOTP.Skew,
		Algorithm: cfg.TOTP.Algorithm,
	})

	engine := &Engine{
		config:      cloneConfig(cfg),
		store:       b.store,
		redis:       b.redis,
		policy:      lockout.NewPolicy(cfg.Lockout.Threshold, cfg.Lockout.Ladder),
		locks:       keylock.New(cfg.Lockout.LockStripes),
		rotator:     tokens.NewRotator(jm, clock),
		jwtManager:  jm,
		hasher:      hasher,
		totp:        otp,
		roleManager: roleManager,
		metrics:     NewMetrics(cfg.Metrics),
		logger:      logger,
		clock:       clock,
	}

	// -------- IP THROTTLE --------
	engine.throttle = rate.New(b.redis, rate.Config{
		Enabled:       cfg.IPThrottle.Enabled,
		MaxAttempts:   cfg.IPThrottle.MaxAttempts,
		BlockDuration: cfg.IPThrottle.BlockDuration,
		AttemptWindow: cfg.IPThrottle.AttemptWindow,
	}, rate.WithClock(clock), rate.WithLogger(logger.Named("ipthrottle")))

	// -------- SIDE CHANNELS --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger.Named("audit"))

	if b.notifier != nil {
		engine.notifier = notify.NewDispatcher(b.notifier, cfg.Notify.dispatcherConfig(), logger.Named("notify"))
	}

	engine.flow = newFlowService(engine)

	b.built = true

	return engine, nil
}
