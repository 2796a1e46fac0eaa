package engine

import (
	"sync"
	"time"
)

// growthBreaker pauses pool growth after consecutive session-creation
// failures.
//
// It is deliberately scoped to growth: existing sessions keep draining
// their queues while the breaker is open, so a login outage degrades
// throughput instead of amplifying into a login storm.
type growthBreaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func newGrowthBreaker(threshold int, cooldown time.Duration) *growthBreaker {
	return &growthBreaker{threshold: threshold, cooldown: cooldown}
}

// recordFailure counts one failed creation. It reports true when this
// failure opened (not merely extended) the cooldown window.
func (b *growthBreaker) recordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails++
	b.lastFailure = now
	if b.fails < b.threshold {
		return false
	}
	wasOpen := now.Before(b.openUntil)
	b.openUntil = now.Add(b.cooldown)
	return !wasOpen
}

// recordSuccess closes the breaker and clears the failure streak.
func (b *growthBreaker) recordSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.openUntil = time.Time{}
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}

func (b *growthBreaker) isOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.openUntil)
}

func (b *growthBreaker) state(now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BreakerState{Failures: b.fails, Open: now.Before(b.openUntil)}
	if st.Open {
		st.OpenUntil = b.openUntil
	}
	return st
}

// configure swaps the thresholds; the current streak and window carry over.
func (b *growthBreaker) configure(threshold int, cooldown time.Duration) {
	b.mu.Lock()
	b.threshold = threshold
	b.cooldown = cooldown
	b.mu.Unlock()
}
