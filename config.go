package guardian

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/guardian/lockout"
	"github.com/MrEthical07/guardian/notify"
)

// Config is the full engine configuration. Build it once, hand it to
// Builder.WithConfig and treat it as immutable afterwards.
type Config struct {
	JWT          JWTConfig
	Password     PasswordConfig
	Lockout      LockoutConfig
	IPThrottle   IPThrottleConfig
	TOTP         TOTPConfig
	Registration RegistrationConfig
	Notify       NotifyConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the per-account lock ladder.
type LockoutConfig struct {
	// Threshold is the number of consecutive failures that locks an account.
	Threshold int
	// Ladder maps the lock count to the lock duration. Missing counts are permanent.
	Ladder lockout.Ladder
	// LockStripes sizes the per-account mutex table.
	LockStripes int
}

/*
====================================
IP THROTTLE CONFIG
====================================
*/

// IPThrottleConfig controls the Redis-backed per-address throttle.
type IPThrottleConfig struct {
	Enabled       bool
	MaxAttempts   int
	BlockDuration time.Duration
	AttemptWindow time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig sets the one-time code parameters shared by every account that
// enables a second factor.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Skew      int // accepted steps either side of now
	Algorithm string
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig names the roles self-registration may and may not use.
type RegistrationConfig struct {
	DefaultRole string
	AdminRole   string
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig sizes the asynchronous notification dispatcher.
type NotifyConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied.
// Signing keys are left empty and must be provided.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "guardian",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold:   lockout.DefaultThreshold,
			Ladder:      lockout.DefaultLadder(),
			LockStripes: 256,
		},
		IPThrottle: IPThrottleConfig{
			Enabled:       true,
			MaxAttempts:   5,
			BlockDuration: 15 * time.Minute,
			AttemptWindow: time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:    "guardian",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Registration: RegistrationConfig{
			DefaultRole: "USER",
			AdminRole:   "ADMIN",
		},
		Notify: NotifyConfig{
			Workers:   2,
			QueueSize: 256,
			Timeout:   10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Lockout.Ladder = cfg.Lockout.Ladder.Clone()
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c NotifyConfig) dispatcherConfig() notify.DispatcherConfig {
	return notify.DispatcherConfig{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		Timeout:   c.Timeout,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 0 {
		return errors.New("Password MinLength must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if err := c.Lockout.Ladder.Validate(); err != nil {
		return err
	}
	if c.Lockout.LockStripes <= 0 {
		return errors.New("Lockout LockStripes must be > 0")
	}

	// IP throttle
	if c.IPThrottle.Enabled {
		if c.IPThrottle.MaxAttempts <= 0 {
			return errors.New("IPThrottle MaxAttempts must be > 0")
		}
		if c.IPThrottle.BlockDuration <= 0 {
			return errors.New("IPThrottle BlockDuration must be > 0")
		}
		if c.IPThrottle.AttemptWindow < 0 {
			return errors.New("IPThrottle AttemptWindow must be >= 0")
		}
	}

	// TOTP
	if strings.TrimSpace(c.TOTP.Issuer) == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Registration
	if strings.TrimSpace(c.Registration.DefaultRole) == "" {
		return errors.New("Registration DefaultRole must be set")
	}
	if strings.TrimSpace(c.Registration.AdminRole) == "" {
		return errors.New("Registration AdminRole must be set")
	}
	if strings.EqualFold(c.Registration.DefaultRole, c.Registration.AdminRole) {
		return errors.New("Registration DefaultRole must differ from AdminRole")
	}

	// Notify
	if c.Notify.Workers < 0 || c.Notify.QueueSize < 0 || c.Notify.Timeout < 0 {
		return errors.New("Notify settings must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
