package engine

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the random source behind every probabilistic decision. It is
// satisfied by *rand.Rand from math/rand/v2.
type Rand interface {
	Float64() float64
	Int64N(n int64) int64
	NormFloat64() float64
}

// Clock returns the current time.
type Clock func() time.Time

// SleepFunc waits for d, returning early with ctx.Err() on cancellation.
type SleepFunc func(ctx context.Context, d time.Duration) error

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe random source seeded with seed.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeededRand seeds from the wall clock.
func NewTimeSeededRand() Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func systemClock() time.Time {
	return time.Now().UTC()
}

// uniformDuration draws from [lo, hi] inclusive.
func uniformDuration(r Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Int64N(int64(hi-lo)+1))
}

// uniformFloat draws from [lo, hi).
func uniformFloat(r Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Float64()*(hi-lo)
}

// uniformInt draws from [lo, hi] inclusive.
func uniformInt(r Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + int(r.Int64N(int64(hi-lo)+1))
}
