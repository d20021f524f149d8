// Package config loads server settings from the environment or a YAML
// file and maps them onto guardian.Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/lockout"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Settings is the full process configuration of guardian-server.
type Settings struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development" yaml:"app_env"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080" yaml:"http_addr"`
	SentryDSN string `env:"SENTRY_DSN" yaml:"sentry_dsn"`

	DatabaseURL   string `env:"DATABASE_URL" yaml:"database_url"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true" yaml:"run_migrations"`

	Redis        RedisSettings        `yaml:"redis"`
	JWT          JWTSettings          `yaml:"jwt"`
	Password     PasswordSettings     `yaml:"password"`
	Lockout      LockoutSettings      `yaml:"lockout"`
	IPThrottle   IPThrottleSettings   `yaml:"ip_throttle"`
	TOTP         TOTPSettings         `yaml:"totp"`
	Registration RegistrationSettings `yaml:"registration"`
	Notify       NotifySettings       `yaml:"notify"`
	Metrics      MetricsSettings      `yaml:"metrics"`
	AuditLog     bool                 `env:"AUDIT_LOG" envDefault:"true" yaml:"audit_log"`
}

type RedisSettings struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB" envDefault:"0" yaml:"db"`
}

// JWTSettings selects hs256 with Secret, or ed25519 with PEM key files.
type JWTSettings struct {
	SigningMethod  string        `env:"JWT_SIGNING_METHOD" envDefault:"hs256" yaml:"signing_method"`
	Secret         string        `env:"JWT_SECRET" yaml:"secret"`
	PrivateKeyFile string        `env:"JWT_PRIVATE_KEY_FILE" yaml:"private_key_file"`
	PublicKeyFile  string        `env:"JWT_PUBLIC_KEY_FILE" yaml:"public_key_file"`
	Issuer         string        `env:"JWT_ISSUER" envDefault:"guardian" yaml:"issuer"`
	Audience       string        `env:"JWT_AUDIENCE" yaml:"audience"`
	AccessTTL      time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m" yaml:"access_ttl"`
	RefreshTTL     time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h" yaml:"refresh_ttl"`
}

type PasswordSettings struct {
	MinLength      int  `env:"PASSWORD_MIN_LENGTH" envDefault:"10" yaml:"min_length"`
	UpgradeOnLogin bool `env:"PASSWORD_UPGRADE_ON_LOGIN" envDefault:"true" yaml:"upgrade_on_login"`
}

// LockoutSettings carries the ladder as "lockCount:millis" pairs; a
// negative duration means permanent.
type LockoutSettings struct {
	Threshold int    `env:"LOCKOUT_THRESHOLD" envDefault:"3" yaml:"threshold"`
	Ladder    string `env:"LOCKOUT_LADDER" envDefault:"1:60000,2:300000,3:1800000" yaml:"ladder"`
}

type IPThrottleSettings struct {
	Enabled       bool          `env:"IP_THROTTLE_ENABLED" envDefault:"true" yaml:"enabled"`
	MaxAttempts   int           `env:"IP_THROTTLE_MAX_ATTEMPTS" envDefault:"5" yaml:"max_attempts"`
	BlockDuration time.Duration `env:"IP_THROTTLE_BLOCK_DURATION" envDefault:"15m" yaml:"block_duration"`
	AttemptWindow time.Duration `env:"IP_THROTTLE_ATTEMPT_WINDOW" envDefault:"1h" yaml:"attempt_window"`
}

type TOTPSettings struct {
	Issuer    string `env:"TOTP_ISSUER" envDefault:"guardian" yaml:"issuer"`
	Digits    int    `env:"TOTP_DIGITS" envDefault:"6" yaml:"digits"`
	Skew      int    `env:"TOTP_SKEW" envDefault:"1" yaml:"skew"`
	Algorithm string `env:"TOTP_ALGORITHM" envDefault:"SHA1" yaml:"algorithm"`
}

type RegistrationSettings struct {
	DefaultRole string `env:"DEFAULT_ROLE" envDefault:"USER" yaml:"default_role"`
	AdminRole   string `env:"ADMIN_ROLE" envDefault:"ADMIN" yaml:"admin_role"`
}

// NotifySettings enables each notifier whose required fields are set.
type NotifySettings struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN" yaml:"telegram_bot_token"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID" yaml:"telegram_chat_id"`

	SMTPHost     string `env:"SMTP_HOST" yaml:"smtp_host"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587" yaml:"smtp_port"`
	SMTPUsername string `env:"SMTP_USERNAME" yaml:"smtp_username"`
	SMTPPassword string `env:"SMTP_PASSWORD" yaml:"smtp_password"`
	SMTPFrom     string `env:"SMTP_FROM" yaml:"smtp_from"`
	SMTPStartTLS bool   `env:"SMTP_STARTTLS" envDefault:"true" yaml:"smtp_starttls"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," yaml:"kafka_brokers"`
	KafkaSource  string   `env:"KAFKA_SOURCE" envDefault:"guardian" yaml:"kafka_source"`
}

type MetricsSettings struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true" yaml:"enabled"`
	Latency bool `env:"METRICS_LATENCY" envDefault:"true" yaml:"latency"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	s := &Settings{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads settings from a YAML file. Keys the file omits keep their
// environment defaults; the process environment itself is ignored.
func LoadFile(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	s := &Settings{}
	if err := env.ParseWithOptions(s, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.UnmarshalStrict(raw, s); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks what the engine cannot: the ladder syntax and the
// settings needed to reach Postgres.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if _, err := lockout.ParseLadder(s.Lockout.Ladder); err != nil {
		return fmt.Errorf("LOCKOUT_LADDER: %w", err)
	}
	switch s.JWT.SigningMethod {
	case "hs256":
		if len(s.JWT.Secret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if s.JWT.PrivateKeyFile == "" || s.JWT.PublicKeyFile == "" {
			return errors.New("ed25519 requires JWT_PRIVATE_KEY_FILE and JWT_PUBLIC_KEY_FILE")
		}
	default:
		return fmt.Errorf("unsupported JWT_SIGNING_METHOD %q", s.JWT.SigningMethod)
	}
	return nil
}

// IsProduction reports whether AppEnv names a production deployment.
func (s *Settings) IsProduction() bool {
	return strings.EqualFold(s.AppEnv, "production")
}

// EngineConfig maps the settings onto guardian.Config. Key files are read
// here.
func (s *Settings) EngineConfig() (guardian.Config, error) {
	cfg := guardian.DefaultConfig()

	cfg.JWT.SigningMethod = s.JWT.SigningMethod
	cfg.JWT.Issuer = s.JWT.Issuer
	cfg.JWT.Audience = s.JWT.Audience
	cfg.JWT.AccessTTL = s.JWT.AccessTTL
	cfg.JWT.RefreshTTL = s.JWT.RefreshTTL
	switch s.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(s.JWT.Secret)
	case "ed25519":
		priv, err := os.ReadFile(s.JWT.PrivateKeyFile)
		if err != nil {
			return guardian.Config{}, fmt.Errorf("read private key: %w", err)
		}
		pub, err := os.ReadFile(s.JWT.PublicKeyFile)
		if err != nil {
			return guardian.Config{}, fmt.Errorf("read public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	cfg.Password.MinLength = s.Password.MinLength
	cfg.Password.UpgradeOnLogin = s.Password.UpgradeOnLogin

	ladder, err := lockout.ParseLadder(s.Lockout.Ladder)
	if err != nil {
		return guardian.Config{}, err
	}
	cfg.Lockout.Threshold = s.Lockout.Threshold
	cfg.Lockout.Ladder = ladder

	cfg.IPThrottle.Enabled = s.IPThrottle.Enabled
	cfg.IPThrottle.MaxAttempts = s.IPThrottle.MaxAttempts
	cfg.IPThrottle.BlockDuration = s.IPThrottle.BlockDuration
	cfg.IPThrottle.AttemptWindow = s.IPThrottle.AttemptWindow

	cfg.TOTP.Issuer = s.TOTP.Issuer
	cfg.TOTP.Digits = s.TOTP.Digits
	cfg.TOTP.Skew = s.TOTP.Skew
	cfg.TOTP.Algorithm = s.TOTP.Algorithm

	cfg.Registration.DefaultRole = s.Registration.DefaultRole
	cfg.Registration.AdminRole = s.Registration.AdminRole

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = s.Metrics.Latency

	if err := cfg.Validate(); err != nil {
		return guardian.Config{}, err
	}
	return cfg, nil
}
