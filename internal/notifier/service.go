package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"producerd/internal/eventbus"
	rtsup "producerd/internal/runtime/supervisor"
	logx "producerd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	a Alert
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service implements the async alert pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopCh   chan struct{} // closed on Stop; unblocks the event watcher
	stopDone chan struct{} // non-nil while stopping

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
	deduped atomic.Uint64
	failed  atomic.Uint64

	// In-memory history for diagnostics
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the notifier's internal supervisor (nil if not
// started). This is used for operational visibility.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps tunables at runtime. Enabling, disabling, or retargeting
// the sender takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled || s.sender == nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.accepting = true
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Alerting is best-effort; never take down the app over it.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()

	if s.bus != nil {
		sup.GoRestart("events", func(c context.Context) error {
			s.watchLoop(c, stopCh)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier event loop exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	// If not running, nothing to do.
	if q == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	// Block new alerts and release the event watcher.
	s.accepting = false
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without
	// leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight enqueues to finish, then close the queue so
		// workers can drain.
		s.sendWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// Force-stop internal loops.
		if sup != nil {
			sup.Cancel()
		}
		return
	}
}

// Notify enqueues one alert. A full queue evicts the oldest entry so the
// freshest alerts keep flowing; the eviction is counted and published.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(a)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(key, dedupWindow, dedupMax) {
			s.deduped.Add(1)
			s.publish("notifier.deduped", AlertEvent{Key: key, Priority: a.Priority})
			return nil
		}
	}

	j := job{a: a, dedupKey: key}
	select {
	case q <- j:
		return nil
	default:
	}

	// Full: make room by evicting the head.
	select {
	case old, ok := <-q:
		if ok {
			s.dropped.Add(1)
			s.publish("notifier.dropped", AlertEvent{Key: old.dedupKey, Priority: old.a.Priority, Error: ErrQueueFull.Error()})
		}
	default:
	}
	select {
	case q <- j:
		return nil
	default:
		s.dropped.Add(1)
		s.publish("notifier.dropped", AlertEvent{Key: key, Priority: a.Priority, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

// Snapshot returns the recent send history, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	queued := 0
	if s.queue != nil {
		queued = len(s.queue)
	}
	s.mu.Unlock()
	return Stats{
		Enabled: enabled,
		Queued:  queued,
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Deduped: s.deduped.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev AlertEvent) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.sender
	log := s.log
	s.mu.Unlock()

	if snd == nil {
		return
	}

	text := prefixForPriority(j.a.Priority) + j.a.Text
	if text == "" {
		return
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := snd.Send(callCtx, text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(text)
			s.publish("notifier.sent", AlertEvent{Key: j.dedupKey, Priority: j.a.Priority})
			return
		}
		lastErr = err
		log.Debug("alert send failed",
			logx.Any("err", err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.failed.Add(1)
		s.publish("notifier.failed", AlertEvent{Key: j.dedupKey, Priority: j.a.Priority, Error: lastErr.Error()})
	}
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

func dedupKey(a Alert) string {
	if a.Text == "" {
		return ""
	}
	h := fnv.New64a()
	if a.Key != "" {
		_, _ = h.Write([]byte(a.Key))
	} else {
		_, _ = h.Write([]byte(fmt.Sprintf("%d|", a.Priority)))
		_, _ = h.Write([]byte(a.Text))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether an alert with this key may be sent, and if
// so opens a fresh suppression window for it.
func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}

	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		// Remove entries with earliest expiry until within cap.
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
