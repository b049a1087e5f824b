package game

import (
	mathrand "math/rand"
	"sync"
	"time"
)

// Source is the single randomness entry point for draws, magnitudes and the walk.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntBetween returns a uniform integer in [lo, hi].
	IntBetween(lo, hi int64) int64
}

// LockedRand is a seedable Source safe for concurrent use.
type LockedRand struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewRand(seed int64) *LockedRand {
	return &LockedRand{rand: mathrand.New(mathrand.NewSource(seed))}
}

// NewTimeRand seeds from the wall clock.
func NewTimeRand() *LockedRand {
	return NewRand(time.Now().UnixNano())
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

func (r *LockedRand) IntBetween(lo, hi int64) int64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.rand.Int63n(hi-lo+1)
}
