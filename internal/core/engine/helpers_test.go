package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cadencectl/cadence/internal/core"
)

// scriptedRand replays fixed values. Exhausted scripts fall back to values
// that never trigger a probabilistic branch.
type scriptedRand struct {
	floats []float64
	ints   []int64
	norms  []float64
}

func (s *scriptedRand) Float64() float64 {
	if len(s.floats) == 0 {
		return 0.999
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *scriptedRand) Int64N(n int64) int64 {
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	if v >= n {
		return n - 1
	}
	return v
}

func (s *scriptedRand) NormFloat64() float64 {
	if len(s.norms) == 0 {
		return 0
	}
	v := s.norms[0]
	s.norms = s.norms[1:]
	return v
}

// midRand always picks the centre of a range.
type midRand struct{}

func (midRand) Float64() float64     { return 0.5 }
func (midRand) Int64N(n int64) int64 { return n / 2 }
func (midRand) NormFloat64() float64 { return 0 }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sleepRecorder advances the fake clock instead of blocking.
type sleepRecorder struct {
	clock  *fakeClock
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sleeps = append(s.sleeps, d)
	if s.clock != nil && d > 0 {
		s.clock.Advance(d)
	}
	return nil
}

type memoryQuotaStore struct {
	state   *core.QuotaState
	saves   int
	saveErr error
	loadErr error
}

func (m *memoryQuotaStore) LoadQuota(ctx context.Context) (*core.QuotaState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		return nil, nil
	}
	copied := *m.state
	return &copied, nil
}

func (m *memoryQuotaStore) SaveQuota(ctx context.Context, state *core.QuotaState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *state
	m.state = &copied
	m.saves++
	return nil
}

type memorySessionStore struct {
	state *core.SessionState
	saves int
}

func (m *memorySessionStore) LoadSession(ctx context.Context) (*core.SessionState, error) {
	if m.state == nil {
		return nil, nil
	}
	copied := *m.state
	return &copied, nil
}

func (m *memorySessionStore) SaveSession(ctx context.Context, state *core.SessionState) error {
	copied := *state
	m.state = &copied
	m.saves++
	return nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []core.ControlRecord
}

func (c *captureRecorder) Record(ctx context.Context, record core.ControlRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *captureRecorder) byCategory(category core.RecordCategory) []core.ControlRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.ControlRecord
	for _, r := range c.records {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}
