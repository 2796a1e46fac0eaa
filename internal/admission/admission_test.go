package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "producerd/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func probeConfig() Config {
	return Config{
		Enabled:         true,
		MinDownloadMbps: 10,
		ProbeInterval:   10 * time.Millisecond,
		ProbeTimeout:    time.Second,
		Staleness:       time.Hour,
	}
}

func TestStaticGate(t *testing.T) {
	t.Parallel()

	if !Static(true).Allow(context.Background()) {
		t.Fatal("Static(true).Allow = false, want true")
	}
	if Static(false).Allow(context.Background()) {
		t.Fatal("Static(false).Allow = true, want false")
	}
}

func TestAllowFailsOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	p := NewNetProbe(probeConfig(), logx.Nop())
	if !p.Allow(ctx) {
		t.Fatal("Allow without a measurement = false, want true")
	}

	p = NewNetProbe(Config{Enabled: false, MinDownloadMbps: 10}, logx.Nop())
	p.mu.Lock()
	p.last = Measurement{At: time.Now(), DownloadMbps: 1}
	p.haveOne = true
	p.mu.Unlock()
	if !p.Allow(ctx) {
		t.Fatal("Allow on disabled probe = false, want true")
	}

	cfg := probeConfig()
	cfg.MinDownloadMbps = 0
	p = NewNetProbe(cfg, logx.Nop())
	p.mu.Lock()
	p.last = Measurement{At: time.Now(), DownloadMbps: 1}
	p.haveOne = true
	p.mu.Unlock()
	if !p.Allow(ctx) {
		t.Fatal("Allow with zero floor = false, want true")
	}

	p = NewNetProbe(probeConfig(), logx.Nop())
	p.mu.Lock()
	p.last = Measurement{At: time.Now().Add(-2 * time.Hour), DownloadMbps: 1}
	p.haveOne = true
	p.mu.Unlock()
	if !p.Allow(ctx) {
		t.Fatal("Allow on stale measurement = false, want true")
	}
}

func TestAllowEnforcesFloor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mbps float64
		want bool
	}{
		{"below floor", 5, false},
		{"at floor", 10, true},
		{"above floor", 50, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewNetProbe(probeConfig(), logx.Nop())
			p.mu.Lock()
			p.last = Measurement{At: time.Now(), DownloadMbps: tt.mbps}
			p.haveOne = true
			p.mu.Unlock()

			if got := p.Allow(context.Background()); got != tt.want {
				t.Fatalf("Allow with %.0f Mbps = %v, want %v", tt.mbps, got, tt.want)
			}
		})
	}
}

func TestProbeLoopCachesMeasurements(t *testing.T) {
	t.Parallel()

	var n atomic.Int64
	p := NewNetProbe(probeConfig(), logx.Nop())
	p.measure = func(ctx context.Context, cfg Config) (Measurement, error) {
		return Measurement{DownloadMbps: float64(n.Add(1))}, nil
	}

	p.Start(context.Background())
	p.Start(context.Background()) // idempotent
	defer p.Stop(context.Background())

	if !p.Status().Running {
		t.Fatal("Status.Running = false after Start, want true")
	}

	waitFor(t, "repeated probes", func() bool {
		m, ok := p.Last()
		return ok && m.DownloadMbps >= 3
	})
	if got := p.Status().Probes; got < 3 {
		t.Fatalf("Status.Probes = %d, want >= 3", got)
	}
	m, ok := p.Last()
	if !ok || m.At.IsZero() {
		t.Fatalf("Last = %+v, %v, want stamped measurement", m, ok)
	}

	p.Stop(context.Background())
	p.Stop(context.Background()) // idempotent
	if p.Status().Running {
		t.Fatal("Status.Running = true after Stop, want false")
	}
}

func TestProbeFailureKeepsLastGood(t *testing.T) {
	t.Parallel()

	var n atomic.Int64
	p := NewNetProbe(probeConfig(), logx.Nop())
	p.measure = func(ctx context.Context, cfg Config) (Measurement, error) {
		if n.Add(1) == 1 {
			return Measurement{DownloadMbps: 50}, nil
		}
		return Measurement{}, errors.New("probe down")
	}

	p.Start(context.Background())
	defer p.Stop(context.Background())

	waitFor(t, "probe failures", func() bool { return p.Status().Failures >= 2 })

	m, ok := p.Last()
	if !ok || m.DownloadMbps != 50 {
		t.Fatalf("Last = %+v, %v, want the last good measurement", m, ok)
	}
	if !p.Allow(context.Background()) {
		t.Fatal("Allow = false with last good above floor, want true")
	}
	if st := p.Status(); st.LastError == "" {
		t.Fatal("Status.LastError empty after failures")
	}

	// The cached value still enforces a raised floor.
	cfg := probeConfig()
	cfg.MinDownloadMbps = 60
	p.Apply(cfg)
	if p.Allow(context.Background()) {
		t.Fatal("Allow = true with floor above last good, want false")
	}
}

func TestStartDisabledStaysDown(t *testing.T) {
	t.Parallel()

	cfg := probeConfig()
	cfg.Enabled = false
	p := NewNetProbe(cfg, logx.Nop())
	p.measure = func(ctx context.Context, cfg Config) (Measurement, error) {
		t.Error("measure called on disabled probe")
		return Measurement{}, nil
	}

	p.Start(context.Background())
	if st := p.Status(); st.Running || st.Probes != 0 {
		t.Fatalf("Status = %+v, want stopped with zero probes", st)
	}
	p.Stop(context.Background())
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	p := NewNetProbe(Config{Enabled: true}, logx.Nop())
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	if cfg.ProbeInterval != defaultProbeInterval {
		t.Fatalf("ProbeInterval = %v, want %v", cfg.ProbeInterval, defaultProbeInterval)
	}
	if cfg.ProbeTimeout != defaultProbeTimeout {
		t.Fatalf("ProbeTimeout = %v, want %v", cfg.ProbeTimeout, defaultProbeTimeout)
	}
	if cfg.Staleness != 3*defaultProbeInterval {
		t.Fatalf("Staleness = %v, want %v", cfg.Staleness, 3*defaultProbeInterval)
	}
}
