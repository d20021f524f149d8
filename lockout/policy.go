package lockout

import (
	"time"

	"github.com/MrEthical07/guardian/domain"
)

// DefaultThreshold is the number of consecutive failures that locks an account.
const DefaultThreshold = 3

// State is the lock state of an account at a point in time.
type State int

const (
	Unlocked State = iota
	LockedTemporary
	LockedPermanent
)

func (s State) String() string {
	switch s {
	case LockedTemporary:
		return "locked_temporary"
	case LockedPermanent:
		return "locked_permanent"
	default:
		return "unlocked"
	}
}

// Policy is the escalating lockout state machine. It only mutates the
// account passed in; persisting the result is the caller's job.
//
// A Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	threshold int
	ladder    Ladder
}

// NewPolicy builds a policy. A non-positive threshold falls back to
// DefaultThreshold and a nil ladder locks permanently on the first lock.
func NewPolicy(threshold int, ladder Ladder) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ladder == nil {
		ladder = Ladder{}
	}
	return &Policy{threshold: threshold, ladder: ladder.Clone()}
}

// Threshold returns the failure count that triggers a lock.
func (p *Policy) Threshold() int {
	return p.threshold
}

// Ladder returns a copy of the configured ladder.
func (p *Policy) Ladder() Ladder {
	return p.ladder.Clone()
}

// RecordFailedAttempt counts one failure and locks the account once the
// threshold is reached. It reports whether this call locked the account.
func (p *Policy) RecordFailedAttempt(a *domain.Account, now time.Time) bool {
	a.FailedAttempts++
	if a.FailedAttempts < p.threshold {
		return false
	}

	lockedAt := now
	a.Locked = true
	a.LockCount++
	a.LockedAt = &lockedAt
	a.FailedAttempts = 0
	return true
}

// ResetAttempts clears every counter and unlocks the account.
func (p *Policy) ResetAttempts(a *domain.Account) {
	a.FailedAttempts = 0
	a.LockCount = 0
	a.Locked = false
	a.LockedAt = nil
}

// Unlock lifts the lock but keeps LockCount so the next lock escalates.
func (p *Policy) Unlock(a *domain.Account) {
	a.Locked = false
	a.FailedAttempts = 0
}

// LockDuration resolves the ladder entry for the account's lock count.
func (p *Policy) LockDuration(a *domain.Account) time.Duration {
	return p.ladder.Duration(a.LockCount)
}

// IsPermanent reports whether the account's current lock never expires on its own.
func (p *Policy) IsPermanent(a *domain.Account) bool {
	return p.ladder.IsPermanent(a.LockCount)
}

// ShouldAutoUnlock is true when no lock timestamp exists, or when the
// ladder gives a finite duration that has fully elapsed.
func (p *Policy) ShouldAutoUnlock(a *domain.Account, now time.Time) bool {
	if a.LockedAt == nil {
		return true
	}
	d := p.LockDuration(a)
	if d == Permanent {
		return false
	}
	return a.LockedAt.Add(d).Before(now)
}

// SecondsRemaining is the whole number of seconds until a temporary lock
// expires, never negative. Permanent locks report zero.
func (p *Policy) SecondsRemaining(a *domain.Account, now time.Time) int64 {
	if a.LockedAt == nil {
		return 0
	}
	d := p.LockDuration(a)
	if d == Permanent {
		return 0
	}
	remaining := a.LockedAt.Add(d).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// State classifies the account without mutating it.
func (p *Policy) State(a *domain.Account, now time.Time) State {
	if !a.Locked {
		return Unlocked
	}
	if p.IsPermanent(a) {
		return LockedPermanent
	}
	if p.ShouldAutoUnlock(a, now) {
		return Unlocked
	}
	return LockedTemporary
}
