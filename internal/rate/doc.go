// Package rate implements the Redis-backed per-address throttle used to
// blunt credential stuffing.
//
// # Key layout
//
//   - gip:a:<addr>: failure counter, INCR with PEXPIRE on the first hit
//   - gip:b:<addr>: block record holding the block start in unix millis
//
// Reaching the maximum writes the block record and drops the counter in one
// Lua script. A block ends once now >= blockedAt + blockDuration; the record
// also carries a matching TTL so Redis cleans it up without a reader.
//
// # Failure policy
//
// Redis errors never block a request. They are logged and the address is
// treated as not blocked.
package rate
