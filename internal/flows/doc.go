// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function takes a typed dependency struct whose Core holds the
// store, lockout policy, address throttle, per-account locks and token
// rotator. Side channels (metrics, audit, notifications, logging) arrive as
// optional hooks, and host-level sentinel errors arrive through Core.Errors
// so this package never imports the root package.
//
// # Unit of work
//
// Every account mutation reads the account again inside a store transaction
// while holding the per-account lock, applies the change and saves it before
// the transaction commits. Recording a failed attempt always runs in its own
// transaction so the count is durable no matter how the login ends.
//
// Password hashing and verification run before any lock is taken.
package flows
