// Package security summarizes the protective posture of an engine
// configuration: credential hashing, token lifetimes, the lockout ladder and
// the address throttle.
package security
