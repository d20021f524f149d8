package security

import (
	"sort"
	"time"
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// LadderStep is one rung of the lockout ladder. Permanent steps carry a
// zero Duration.
type LadderStep struct {
	LockCount int
	Duration  time.Duration
	Permanent bool
}

type Report struct {
	SigningAlgorithm    string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Argon2              PasswordReport
	HashUpgradeOnLogin  bool
	LockoutThreshold    int
	Ladder              []LadderStep
	PermanentAfterLocks int
	IPThrottleActive    bool
	IPMaxAttempts       int
	IPBlockDuration     time.Duration
	NotificationsActive bool
	AuditActive         bool
	MetricsActive       bool
	Warnings            []string
}

type ReportInput struct {
	SigningAlgorithm   string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	Password           PasswordReport
	UpgradeOnLogin     bool
	LockoutThreshold   int
	Ladder             map[int]time.Duration
	IPThrottleEnabled  bool
	IPMaxAttempts      int
	IPBlockDuration    time.Duration
	NotifierConfigured bool
	AuditEnabled       bool
	MetricsEnabled     bool
}

// BuildReport orders the reachable ladder steps and flags weak settings.
// PermanentAfterLocks is the first lock count that never auto-unlocks.
func BuildReport(input ReportInput) Report {
	counts := make([]int, 0, len(input.Ladder))
	for k := range input.Ladder {
		counts = append(counts, k)
	}
	sort.Ints(counts)

	steps := make([]LadderStep, 0, len(counts))
	permanentAfter := 1
	for _, k := range counts {
		// Counts past a gap are never reached.
		if k != permanentAfter {
			break
		}
		d := input.Ladder[k]
		if d < 0 {
			steps = append(steps, LadderStep{LockCount: k, Permanent: true})
			break
		}
		steps = append(steps, LadderStep{LockCount: k, Duration: d})
		permanentAfter = k + 1
	}

	r := Report{
		SigningAlgorithm:    input.SigningAlgorithm,
		AccessTTL:           input.AccessTTL,
		RefreshTTL:          input.RefreshTTL,
		Argon2:              input.Password,
		HashUpgradeOnLogin:  input.UpgradeOnLogin,
		LockoutThreshold:    input.LockoutThreshold,
		Ladder:              steps,
		PermanentAfterLocks: permanentAfter,
		IPThrottleActive:    input.IPThrottleEnabled && input.IPMaxAttempts > 0,
		IPMaxAttempts:       input.IPMaxAttempts,
		IPBlockDuration:     input.IPBlockDuration,
		NotificationsActive: input.NotifierConfigured,
		AuditActive:         input.AuditEnabled,
		MetricsActive:       input.MetricsEnabled,
	}

	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "hs256 shares the signing secret with every verifier")
	}
	if !r.IPThrottleActive {
		r.Warnings = append(r.Warnings, "address throttle disabled")
	}
	if input.LockoutThreshold > 10 {
		r.Warnings = append(r.Warnings, "lockout threshold above 10 failed attempts")
	}
	if input.AccessTTL > time.Hour {
		r.Warnings = append(r.Warnings, "access tokens live longer than one hour")
	}
	if input.Password.Memory < 64*1024 {
		r.Warnings = append(r.Warnings, "argon2id memory below 64 MiB")
	}
	return r
}
