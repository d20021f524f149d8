// Package guardian is an authentication and account-security engine:
// credential checks, an escalating per-account lockout ladder, a Redis-backed
// per-address throttle, and persisted access and refresh tokens that rotate
// on every login, refresh and password reset.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
//
// # Architecture boundaries
//
// guardian is the public surface. It exposes [Engine], [Builder], [Config]
// and the error values callers match with errors.Is. Flow orchestration,
// the throttle, per-account locking, audit dispatch and token rotation live
// under internal/. Persistence is pluggable through [Store]; store/postgres
// and store/memory ship with the module.
//
// # Lockout
//
// Every wrong password counts against the account. At the threshold the
// account locks, its lock count grows and the failure counter returns to
// zero. The ladder maps the lock count to a duration; counts the ladder does
// not name lock permanently. Address throttling runs independently, so one
// address spraying many accounts is blocked even when no single account
// reaches its threshold.
//
// # What this package must NOT do
//
//   - Log raw passwords or token values. Tokens appear as fingerprints only.
//   - Let a notification or audit failure fail the operation that caused it.
//   - Hold a per-account lock while hashing a password.
package guardian
