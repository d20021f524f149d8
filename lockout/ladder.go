package lockout

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Permanent is the ladder duration meaning "never unlock automatically".
const Permanent time.Duration = -1

// PermanentMillis is the configuration sentinel for Permanent.
const PermanentMillis int64 = -1

// Ladder maps the number of times an account has been locked to the length
// of that lock. Counts missing from the ladder resolve to Permanent.
type Ladder map[int]time.Duration

// DefaultLadder escalates 1m, 5m, 30m, then locks for good.
func DefaultLadder() Ladder {
	return Ladder{
		1: time.Minute,
		2: 5 * time.Minute,
		3: 30 * time.Minute,
	}
}

// Duration resolves the lock length for lockCount.
func (l Ladder) Duration(lockCount int) time.Duration {
	d, ok := l[lockCount]
	if !ok || d < 0 {
		return Permanent
	}
	return d
}

// IsPermanent reports whether lockCount resolves to a permanent lock.
func (l Ladder) IsPermanent(lockCount int) bool {
	return l.Duration(lockCount) == Permanent
}

// Clone returns an independent copy of the ladder.
func (l Ladder) Clone() Ladder {
	out := make(Ladder, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Millis returns the ladder in its configuration form.
func (l Ladder) Millis() map[int]int64 {
	out := make(map[int]int64, len(l))
	for k, v := range l {
		if v < 0 {
			out[k] = PermanentMillis
			continue
		}
		out[k] = v.Milliseconds()
	}
	return out
}

// String renders the ladder as "1:60000,2:300000" ordered by lock count.
func (l Ladder) String() string {
	counts := make([]int, 0, len(l))
	for k := range l {
		counts = append(counts, k)
	}
	sort.Ints(counts)

	millis := l.Millis()
	parts := make([]string, 0, len(counts))
	for _, k := range counts {
		parts = append(parts, strconv.Itoa(k)+":"+strconv.FormatInt(millis[k], 10))
	}
	return strings.Join(parts, ",")
}

// Validate rejects non-positive lock counts and zero durations.
func (l Ladder) Validate() error {
	for k, v := range l {
		if k <= 0 {
			return fmt.Errorf("lockout ladder: lock count %d must be positive", k)
		}
		if v == 0 {
			return fmt.Errorf("lockout ladder: duration for lock count %d must be non-zero", k)
		}
	}
	return nil
}

// LadderFromMillis converts the configuration form into a Ladder. Any
// negative value maps to Permanent.
func LadderFromMillis(m map[int]int64) Ladder {
	out := make(Ladder, len(m))
	for k, v := range m {
		if v < 0 {
			out[k] = Permanent
			continue
		}
		out[k] = time.Duration(v) * time.Millisecond
	}
	return out
}

// ParseLadder parses "lockCount:millis" pairs separated by commas, for
// example "1:60000,2:300000,3:-1".
func ParseLadder(s string) (Ladder, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("lockout ladder: empty value")
	}

	m := make(map[int]int64)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("lockout ladder: invalid entry %q", entry)
		}
		count, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("lockout ladder: invalid lock count in %q: %w", entry, err)
		}
		millis, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("lockout ladder: invalid duration in %q: %w", entry, err)
		}
		if _, dup := m[count]; dup {
			return nil, fmt.Errorf("lockout ladder: duplicate lock count %d", count)
		}
		m[count] = millis
	}

	ladder := LadderFromMillis(m)
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	return ladder, nil
}
