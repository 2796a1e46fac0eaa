package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rtsup "producerd/internal/runtime/supervisor"
	logx "producerd/pkg/logx"
)

const (
	defaultProbeInterval = 30 * time.Minute
	defaultProbeTimeout  = 2 * time.Minute

	// deniedWarnEvery throttles the "growth denied" log line; Allow runs
	// on the scheduler tick and would otherwise spam.
	deniedWarnEvery = time.Minute
)

// Config controls the network probe.
type Config struct {
	Enabled bool

	// MinDownloadMbps is the growth floor. Zero disables the check even
	// when the probe is enabled.
	MinDownloadMbps float64

	ProbeInterval time.Duration // default 30m
	ProbeTimeout  time.Duration // bounds one measurement, default 2m

	// Staleness is how old a measurement may be and still deny growth.
	// Default 3x ProbeInterval. Older measurements fail open.
	Staleness time.Duration

	// Measurement tuning, defaulted in measure.go.
	ServerCount     int
	PingConcurrency int
	MaxConnections  int
}

// Measurement is one probe result.
type Measurement struct {
	At           time.Time `json:"at"`
	DownloadMbps float64   `json:"download_mbps"`
	LatencyMs    float64   `json:"latency_ms"`
	Server       string    `json:"server,omitempty"`
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Enabled   bool         `json:"enabled"`
	Running   bool         `json:"running"`
	FloorMbps float64      `json:"min_download_mbps"`
	Probes    uint64       `json:"probes"`
	Failures  uint64       `json:"failures"`
	Last      *Measurement `json:"last,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// Static is a fixed admission answer, for tests and manual overrides.
type Static bool

func (s Static) Allow(context.Context) bool { return bool(s) }

// NetProbe measures the link periodically and gates growth on the cached
// result. Safe for concurrent use.
type NetProbe struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	// measure is swapped in tests.
	measure func(ctx context.Context, cfg Config) (Measurement, error)

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	last    Measurement
	haveOne bool
	lastErr string

	probes   atomic.Uint64
	failures atomic.Uint64

	wmu      sync.Mutex
	lastWarn time.Time
}

func NewNetProbe(cfg Config, log logx.Logger) *NetProbe {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &NetProbe{
		log:     log.With(logx.String("comp", "admission")),
		measure: measureNet,
	}
	p.applyLocked(cfg)
	return p
}

// Apply swaps tunables at runtime. Enabling or disabling the probe loop
// takes effect on the next Start; the Allow floor changes immediately.
func (p *NetProbe) Apply(cfg Config) {
	p.mu.Lock()
	p.applyLocked(cfg)
	p.mu.Unlock()
}

func (p *NetProbe) applyLocked(cfg Config) {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 3 * cfg.ProbeInterval
	}
	p.cfg = cfg
}

func (p *NetProbe) Enabled() bool {
	p.mu.Lock()
	en := p.cfg.Enabled
	p.mu.Unlock()
	return en
}

// Start launches the probe loop. Idempotent; a disabled probe stays down
// and Allow fails open.
func (p *NetProbe) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		p.mu.Lock()
	}
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	if !p.cfg.Enabled {
		p.mu.Unlock()
		return
	}

	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(p.log),
		// The gate is advisory; never take down the app over it.
		rtsup.WithCancelOnError(false),
	)
	sup := p.sup
	p.mu.Unlock()

	sup.GoRestart("probe", func(c context.Context) error {
		p.loop(c, stopCh)
		p.mu.Lock()
		stopping := p.stopDone != nil
		p.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("admission probe loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))
}

// Stop halts the probe loop. An in-flight measurement has no value
// during shutdown, so it is cancelled rather than drained.
func (p *NetProbe) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	p.stopDone = done
	close(p.stopCh)
	sup := p.sup
	p.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		defer close(done)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		p.mu.Lock()
		p.stopCh = nil
		p.sup = nil
		p.stopDone = nil
		p.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Allow reports whether the pool may grow past its soft cap. Answers
// from the cached measurement only; never blocks on the network.
func (p *NetProbe) Allow(context.Context) bool {
	p.mu.Lock()
	cfg := p.cfg
	last := p.last
	have := p.haveOne
	p.mu.Unlock()

	if !cfg.Enabled || cfg.MinDownloadMbps <= 0 {
		return true
	}
	if !have || time.Since(last.At) > cfg.Staleness {
		return true
	}
	if last.DownloadMbps >= cfg.MinDownloadMbps {
		return true
	}
	p.warnDenied(last.DownloadMbps, cfg.MinDownloadMbps)
	return false
}

// Last returns the most recent successful measurement, if any.
func (p *NetProbe) Last() (Measurement, bool) {
	p.mu.Lock()
	m, ok := p.last, p.haveOne
	p.mu.Unlock()
	return m, ok
}

func (p *NetProbe) Status() Status {
	p.mu.Lock()
	st := Status{
		Enabled:   p.cfg.Enabled,
		Running:   p.stopCh != nil,
		FloorMbps: p.cfg.MinDownloadMbps,
		Probes:    p.probes.Load(),
		Failures:  p.failures.Load(),
		LastError: p.lastErr,
	}
	if p.haveOne {
		m := p.last
		st.Last = &m
	}
	p.mu.Unlock()
	return st
}

func (p *NetProbe) loop(ctx context.Context, stopCh <-chan struct{}) {
	// Measure right away so the first growth decision past the soft cap
	// has data to stand on.
	p.probeOnce(ctx)

	for {
		p.mu.Lock()
		interval := p.cfg.ProbeInterval
		p.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-stopCh:
			t.Stop()
			return
		case <-t.C:
		}
		p.probeOnce(ctx)
	}
}

func (p *NetProbe) probeOnce(ctx context.Context) {
	p.mu.Lock()
	cfg := p.cfg
	fn := p.measure
	p.mu.Unlock()
	if fn == nil {
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	m, err := fn(runCtx, cfg)
	cancel()

	p.probes.Add(1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures.Add(1)
		p.mu.Lock()
		p.lastErr = err.Error()
		p.mu.Unlock()
		p.log.Warn("network probe failed", logx.Err(err))
		return
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}

	p.mu.Lock()
	p.last = m
	p.haveOne = true
	p.lastErr = ""
	p.mu.Unlock()

	p.log.Debug("network probe ok",
		logx.Float64("download_mbps", m.DownloadMbps),
		logx.Float64("latency_ms", m.LatencyMs),
		logx.String("server", m.Server))
}

func (p *NetProbe) warnDenied(got, floor float64) {
	p.wmu.Lock()
	due := time.Since(p.lastWarn) >= deniedWarnEvery
	if due {
		p.lastWarn = time.Now()
	}
	p.wmu.Unlock()
	if !due {
		return
	}
	p.log.Info("pool growth denied, link below floor",
		logx.Float64("download_mbps", got),
		logx.Float64("floor_mbps", floor))
}
