// Package lockout implements the escalating account lockout policy.
//
// Every threshold-th consecutive failure locks the account and increments
// its lock count. The lock count selects a duration from a Ladder; counts the
// ladder does not cover lock permanently until an administrator steps in.
package lockout
