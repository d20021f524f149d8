package guardian

import (
	"context"
	"time"

	"github.com/MrEthical07/guardian/internal/security"
)

// SecurityReport describes the protective settings an engine runs with.
type SecurityReport = security.Report

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisConfigured bool
	RedisAvailable  bool
	RedisLatency    time.Duration
}

// Health pings Redis. The address throttle fails open, so an unavailable
// Redis degrades protection without failing requests.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.redis == nil {
		return HealthStatus{}
	}

	start := time.Now()
	err := e.redis.Ping(ctx).Err()
	return HealthStatus{
		RedisConfigured: true,
		RedisAvailable:  err == nil,
		RedisLatency:    time.Since(start),
	}
}

// AddressAttempts returns the failure counter of a source address.
func (e *Engine) AddressAttempts(ctx context.Context, addr string) (int, error) {
	if e == nil || e.throttle == nil {
		return 0, ErrEngineNotReady
	}
	return e.throttle.Attempts(ctx, addr)
}

// AddressBlocked reports whether a source address is currently throttled.
func (e *Engine) AddressBlocked(ctx context.Context, addr string) bool {
	if e == nil || e.throttle == nil {
		return false
	}
	return e.throttle.IsBlocked(ctx, addr)
}

// UnblockAddress lifts a throttle block and clears the address counter.
func (e *Engine) UnblockAddress(ctx context.Context, addr string) error {
	if e == nil || e.throttle == nil {
		return ErrEngineNotReady
	}
	return e.throttle.Unblock(ctx, addr)
}

// SecurityReport summarizes the engine configuration and lists weak
// settings. It never includes key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		},
		UpgradeOnLogin:     cfg.Password.UpgradeOnLogin,
		LockoutThreshold:   cfg.Lockout.Threshold,
		Ladder:             cfg.Lockout.Ladder,
		IPThrottleEnabled:  cfg.IPThrottle.Enabled,
		IPMaxAttempts:      cfg.IPThrottle.MaxAttempts,
		IPBlockDuration:    cfg.IPThrottle.BlockDuration,
		NotifierConfigured: e.notifier != nil,
		AuditEnabled:       cfg.Audit.Enabled,
		MetricsEnabled:     cfg.Metrics.Enabled,
	})
}
