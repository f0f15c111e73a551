package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestComponentsConcurrentReaders runs worker-side writers against the
// readers a dashboard uses. Run with -race; each reader also checks that
// the value it got was taken under one lock.
func TestComponentsConcurrentReaders(t *testing.T) {
	const (
		writers    = 4
		iterations = 200
	)
	ctx := context.Background()
	clock := newFakeClock(at(6, 10, 0))

	quotaCfg := DefaultQuotaConfig()
	quotaCfg.DailyLimit = writers * iterations
	quota, _ := newTestQuota(t, quotaCfg, &memoryQuotaStore{}, clock, nil)
	monitor, _ := newTestMonitor(t, DefaultRiskConfig(), clock)
	injector := newTestInjector(t, DefaultBehaviorConfig(), midRand{})
	classifier := newTestClassifier(t, nil)

	done := make(chan struct{})
	var readers sync.WaitGroup
	read := func(fn func()) {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
					fn()
				}
			}
		}()
	}

	read(func() {
		p := quota.Progress()
		assert.Equal(t, p.EffectiveLimit, p.Count+p.Remaining)
		assert.Equal(t, p.Count >= p.EffectiveLimit, p.LimitReached)
		assert.GreaterOrEqual(t, quota.RequiredDelay(), time.Duration(0))
	})
	read(func() {
		s := monitor.ActivitySummary(0)
		total := 0
		for _, n := range s.ErrorsByKind {
			total += n
		}
		assert.Equal(t, s.Errors, total)
		assert.LessOrEqual(t, s.FailedActions, s.Actions)
	})
	read(func() {
		export := monitor.Export()
		assert.GreaterOrEqual(t, len(export.Actions), export.Summary.Actions)
		assert.True(t, export.Health.Score >= 0 && export.Health.Score <= 100)
	})
	read(func() {
		stats := classifier.Stats()
		total := 0
		for _, n := range stats.ByReason {
			total += n
		}
		assert.Equal(t, stats.Total, total)
		assert.GreaterOrEqual(t, injector.Stats().Skips, 0)
	})

	var workers sync.WaitGroup
	for w := 0; w < writers; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for i := 0; i < iterations; i++ {
				_ = quota.RecordAction(ctx)
				monitor.RecordAction(i%5 != 0, nil)
				if i%5 == 0 {
					monitor.RecordError("network", nil)
				}
				if i%50 == 0 {
					quota.DetectRateLimited(ctx)
					monitor.DetectAnomalies(ctx)
				}
				injector.Decide()
				classifier.ClassifyChallenge("please verify that you're human")
			}
		}()
	}
	workers.Wait()
	close(done)
	readers.Wait()

	assert.Equal(t, writers*iterations, quota.Progress().Count)
	assert.Equal(t, writers*iterations, monitor.ActivitySummary(0).Actions)
	assert.Equal(t, writers*iterations, classifier.Stats().Total)
}
