package engine

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	b := newGrowthBreaker(3, time.Minute)
	now := time.Unix(1000, 0)

	if b.recordFailure(now) {
		t.Fatal("first failure reported an open transition")
	}
	if b.recordFailure(now) {
		t.Fatal("second failure reported an open transition")
	}
	if !b.recordFailure(now) {
		t.Fatal("third failure did not report the open transition")
	}
	if !b.isOpen(now) {
		t.Fatal("breaker closed right after opening")
	}

	// A failure while open extends the window without re-reporting.
	if b.recordFailure(now.Add(30 * time.Second)) {
		t.Fatal("failure while open reported a transition")
	}
	if !b.isOpen(now.Add(80 * time.Second)) {
		t.Fatal("window was not extended by the later failure")
	}

	st := b.state(now.Add(80 * time.Second))
	if !st.Open || st.Failures != 4 || st.OpenUntil.IsZero() {
		t.Fatalf("state = %+v, want open with 4 failures", st)
	}
}

func TestBreakerCooldownAndReset(t *testing.T) {
	t.Parallel()
	b := newGrowthBreaker(2, time.Minute)
	now := time.Unix(2000, 0)
	b.recordFailure(now)
	b.recordFailure(now)

	if b.isOpen(now.Add(61 * time.Second)) {
		t.Fatal("breaker still open after cooldown")
	}
	// The streak survives the window: one more failure re-opens.
	if !b.recordFailure(now.Add(2 * time.Minute)) {
		t.Fatal("failure after cooldown did not re-open")
	}

	b.recordSuccess()
	if b.isOpen(now.Add(2 * time.Minute)) {
		t.Fatal("breaker open after a success reset")
	}
	st := b.state(now.Add(2 * time.Minute))
	if st.Failures != 0 || st.Open || !st.OpenUntil.IsZero() {
		t.Fatalf("state after reset = %+v, want zeroes", st)
	}
}

func TestBreakerConfigure(t *testing.T) {
	t.Parallel()
	b := newGrowthBreaker(5, time.Minute)
	now := time.Unix(3000, 0)
	b.recordFailure(now)

	// Tightening the threshold applies to the carried-over streak.
	b.configure(2, 10*time.Second)
	if !b.recordFailure(now) {
		t.Fatal("failure at the new threshold did not open")
	}
	if b.isOpen(now.Add(11 * time.Second)) {
		t.Fatal("new cooldown not applied")
	}
}
