package domain

import (
	"slices"
	"time"
)

// Role names known to the registration flows.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Account is the identity record together with its mutable security state.
//
// Locked implies LockedAt is set unless the lock is administrative or
// permanent. FailedAttempts returns to zero whenever the account becomes
// locked, is unlocked, or is fully reset.
//
// TOTPSecret is set by setup and only checked at login once TOTPEnabled is
// true. TOTPLastCounter is the last accepted time step.
type Account struct {
	ID              string
	Email           string
	Name            string
	PasswordHash    string
	Roles           []string
	FailedAttempts  int
	LockCount       int
	Locked          bool
	LockedAt        *time.Time
	TOTPSecret      string
	TOTPEnabled     bool
	TOTPLastCounter int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Roles = slices.Clone(a.Roles)
	if a.LockedAt != nil {
		at := *a.LockedAt
		out.LockedAt = &at
	}
	return &out
}

// HasRole reports whether the account carries the named role.
func (a *Account) HasRole(name string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, name)
}

// Role groups privileges under a name.
type Role struct {
	Name       string
	Privileges []string
}
