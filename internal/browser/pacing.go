package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Profile defines the randomized delay ranges applied ahead of interactions
// and the completion polling interval. Rate shaping is policy: it keeps the
// pool below the target surface's abuse thresholds and must stay configurable.
type Profile struct {
	Name string

	ClickMin time.Duration
	ClickMax time.Duration
	KeyMin   time.Duration
	KeyMax   time.Duration
	NavMin   time.Duration
	NavMax   time.Duration

	PollInterval time.Duration
}

var (
	// Stealth is the slowest profile.
	Stealth = Profile{
		Name:     "stealth",
		ClickMin: 200 * time.Millisecond, ClickMax: 800 * time.Millisecond,
		KeyMin: 100 * time.Millisecond, KeyMax: 300 * time.Millisecond,
		NavMin: 2 * time.Second, NavMax: 5 * time.Second,
		PollInterval: time.Second,
	}

	// Balanced is the default.
	Balanced = Profile{
		Name:     "balanced",
		ClickMin: 100 * time.Millisecond, ClickMax: 300 * time.Millisecond,
		KeyMin: 50 * time.Millisecond, KeyMax: 150 * time.Millisecond,
		NavMin: time.Second, NavMax: 3 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}

	// Aggressive trades detection headroom for speed.
	Aggressive = Profile{
		Name:     "aggressive",
		ClickMin: 50 * time.Millisecond, ClickMax: 200 * time.Millisecond,
		KeyMin: 20 * time.Millisecond, KeyMax: 100 * time.Millisecond,
		NavMin: 500 * time.Millisecond, NavMax: 2 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}

	// Zero disables all delays. Test use only.
	Zero = Profile{Name: "zero"}
)

// ProfileByName resolves a profile. Empty input selects Balanced.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "balanced":
		return Balanced, nil
	case "stealth":
		return Stealth, nil
	case "aggressive":
		return Aggressive, nil
	case "zero":
		return Zero, nil
	default:
		return Profile{}, fmt.Errorf("unknown pacing profile %q", name)
	}
}

// NewLimiter builds the pool-wide interaction limiter. ratePerSec <= 0
// disables shared shaping (per-action profile delays still apply).
func NewLimiter(ratePerSec int) *rate.Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
}

// Pacer applies one driver's randomized delays plus the shared limiter.
// Each driver owns one Pacer; the limiter is shared across the pool.
type Pacer struct {
	profile Profile
	limiter *rate.Limiter // may be nil

	// local RNG to avoid global lock contention across workers.
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPacer(profile Profile, limiter *rate.Limiter) *Pacer {
	return &Pacer{
		profile: profile,
		limiter: limiter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *Pacer) Profile() Profile { return p.profile }

// Poll returns the completion polling interval (1s floor when the profile
// leaves it unset, so callers never busy-loop by accident).
func (p *Pacer) Poll() time.Duration {
	if p.profile.PollInterval <= 0 {
		if p.profile.Name == Zero.Name {
			return time.Millisecond
		}
		return time.Second
	}
	return p.profile.PollInterval
}

func (p *Pacer) Click(ctx context.Context) error {
	return p.delay(ctx, p.profile.ClickMin, p.profile.ClickMax)
}

func (p *Pacer) Keystroke(ctx context.Context) error {
	return p.delay(ctx, p.profile.KeyMin, p.profile.KeyMax)
}

// Settle pauses after navigation, letting the surface finish rendering.
func (p *Pacer) Settle(ctx context.Context) error {
	return p.delay(ctx, p.profile.NavMin, p.profile.NavMax)
}

func (p *Pacer) delay(ctx context.Context, min, max time.Duration) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	d := p.pick(min, max)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pacer) pick(min, max time.Duration) time.Duration {
	if max <= 0 || max < min {
		return min
	}
	if max == min {
		return min
	}
	p.mu.Lock()
	n := p.rng.Int63n(int64(max - min))
	p.mu.Unlock()
	return min + time.Duration(n)
}
