// Package keylock serializes work per key inside one process using a fixed
// set of striped mutexes.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 256

// Striped maps keys onto a fixed pool of mutexes. Two keys may share a
// stripe; that only costs throughput, never correctness.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a pool with n stripes, or a default size when n <= 0.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its release func.
func (s *Striped) Lock(key string) (unlock func()) {
	mu := &s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}
