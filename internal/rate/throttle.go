package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultAttemptWindow = time.Hour

// Config holds IP throttle tuning parameters.
type Config struct {
	Enabled       bool
	MaxAttempts   int
	BlockDuration time.Duration
	// AttemptWindow bounds how long an idle failure counter survives.
	AttemptWindow time.Duration
}

// Throttle blocks source addresses after repeated failures, independent of
// which account was targeted. Counters and blocks live in Redis so every
// engine instance shares them.
//
// Every Redis failure is logged and treated as "not blocked".
type Throttle struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Throttle.
type Option func(*Throttle)

// WithClock overrides the time source used to expire blocks.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *zap.Logger) Option {
	return func(t *Throttle) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a [Throttle] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config, opts ...Option) *Throttle {
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = defaultAttemptWindow
	}
	t := &Throttle{
		redis:  redisClient,
		config: cfg,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether the throttle enforces anything.
func (t *Throttle) Enabled() bool {
	return t != nil && t.config.Enabled && t.redis != nil
}

// IsBlocked reports whether addr is currently blocked. Expired blocks are
// removed on read.
func (t *Throttle) IsBlocked(ctx context.Context, addr string) bool {
	if !t.Enabled() || addr == "" {
		return false
	}

	blockedAt, err := t.blockedAt(ctx, addr)
	if err != nil {
		t.logger.Warn("ip throttle unavailable, allowing request",
			zap.String("addr", addr), zap.Error(err))
		return false
	}
	if blockedAt.IsZero() {
		return false
	}

	if !t.now().Before(blockedAt.Add(t.config.BlockDuration)) {
		if err := t.redis.Del(ctx, blockKey(addr)).Err(); err != nil {
			t.logger.Warn("ip throttle failed to clear expired block",
				zap.String("addr", addr), zap.Error(err))
		}
		return false
	}

	return true
}

// RegisterFailedAttempt counts one failure for addr and blocks it once the
// configured maximum is reached. It reports whether this call blocked addr.
func (t *Throttle) RegisterFailedAttempt(ctx context.Context, addr string) bool {
	if !t.Enabled() || addr == "" {
		return false
	}

	blocked, err := t.registerFailure(ctx, addr)
	if err != nil {
		t.logger.Warn("ip throttle failed to record attempt",
			zap.String("addr", addr), zap.Error(err))
		return false
	}
	if blocked {
		t.logger.Info("ip blocked",
			zap.String("addr", addr),
			zap.Int("max_attempts", t.config.MaxAttempts),
			zap.Duration("block_duration", t.config.BlockDuration))
	}
	return blocked
}

// Attempts returns the current failure counter for addr.
func (t *Throttle) Attempts(ctx context.Context, addr string) (int, error) {
	if !t.Enabled() || addr == "" {
		return 0, nil
	}
	count, err := t.redis.Get(ctx, attemptKey(addr)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Unblock clears both the block and the counter for addr.
func (t *Throttle) Unblock(ctx context.Context, addr string) error {
	if !t.Enabled() || addr == "" {
		return nil
	}
	if err := t.redis.Del(ctx, blockKey(addr), attemptKey(addr)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

const registerFailureScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n >= tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`

var registerFailureLua = redis.NewScript(registerFailureScript)

func (t *Throttle) registerFailure(ctx context.Context, addr string) (bool, error) {
	blockTTL := t.config.BlockDuration
	if blockTTL <= 0 {
		blockTTL = time.Millisecond
	}

	res, err := registerFailureLua.Run(
		ctx,
		t.redis,
		[]string{attemptKey(addr), blockKey(addr)},
		t.config.AttemptWindow.Milliseconds(),
		t.config.MaxAttempts,
		t.now().UnixMilli(),
		blockTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

func (t *Throttle) blockedAt(ctx context.Context, addr string) (time.Time, error) {
	raw, err := t.redis.Get(ctx, blockKey(addr)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: corrupt block record", ErrRedisUnavailable)
	}
	return time.UnixMilli(millis), nil
}

func attemptKey(addr string) string {
	return "gip:a:" + addr
}

func blockKey(addr string) string {
	return "gip:b:" + addr
}
