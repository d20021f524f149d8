package rate

import "errors"

var (
	// ErrRedisUnavailable wraps every Redis failure seen by the throttle.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
