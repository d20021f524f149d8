// Package middleware adapts the engine to net/http.
//
// [ClientIP] records the caller's address for the engine's audit trail and
// address throttle. [Guard] validates the bearer access token and stores
// the resulting principal in the request context, and [RequirePrivilege]
// and [RequireRole] gate routes on what that principal holds.
//
// Authentication decisions stay in the engine. This package only maps them
// to status codes.
package middleware
