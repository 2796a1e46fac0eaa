// Package engine schedules generation requests over a bounded pool of
// persistent authenticated browser sessions. Each session owns a local
// FIFO; an overflow queue absorbs work the pool cannot place, and a 50ms
// scheduler tick drains queues, grows the pool on demand, and reclaims
// idle sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"producerd/internal/eventbus"
	rtsup "producerd/internal/runtime/supervisor"
	"producerd/internal/storage"
	logx "producerd/pkg/logx"
)

// Service is the scheduler facade. All methods are safe for concurrent
// use.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	stopCh   chan struct{}
	stopDone chan struct{}
	sup      *rtsup.Supervisor

	log logx.Logger
	bus eventbus.Bus

	factory  DriverFactory
	uploader Uploader
	recorder Recorder
	gate     Gate

	pool    *sessionPool
	queue   *globalQueue
	reqs    *requestIndex
	breaker *growthBreaker

	ticks         atomic.Uint64
	lastTickNano  atomic.Int64
	exhaustedWarn int64
	cleaning      atomic.Bool
}

// New builds a stopped engine. Start launches the pool and scheduler.
func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "engine")),
		bus:      deps.Bus,
		factory:  deps.Factory,
		uploader: deps.Uploader,
		recorder: deps.Recorder,
		gate:     deps.Gate,
		pool:     newSessionPool(),
		queue:    &globalQueue{},
		reqs:     newRequestIndex(),
		breaker:  newGrowthBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

// Start warms the initial sessions in parallel and launches the scheduler
// loop. It is idempotent; a Start during shutdown waits for the shutdown
// to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.factory == nil {
		s.log.Error("engine start refused: no driver factory")
		return
	}
	s.mu.Lock()
	if s.stopCh != nil {
		// If stopping, wait for it to finish before restarting.
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		} else {
			return
		}
		s.mu.Lock()
		// Re-check after wait.
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Session failures degrade the pool; they must not kill the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.InitialWorkers; i++ {
		name := fmt.Sprintf("warmup.%d", i)
		sup.Go(name, func(c context.Context) error {
			if _, err := s.createWorker(c); err != nil && !errors.Is(err, ErrPoolExhausted) {
				s.log.Warn("warmup session failed", logx.Err(err))
			}
			return nil
		})
	}

	sup.GoRestart("scheduler", func(c context.Context) error {
		s.runLoop(c, stopCh, cfg.TickInterval)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("scheduler exited unexpectedly")
	},
		rtsup.WithPublishFirstError(true),
	)

	s.log.Info("engine started",
		logx.Int("initial_workers", cfg.InitialWorkers),
		logx.Int("max_workers", cfg.MaxWorkers),
		logx.Duration("tick", cfg.TickInterval))
	s.publish("engine.started", PoolEvent{Max: cfg.MaxWorkers})
}

// Stop halts scheduling, waits out in-flight jobs, then closes every
// session. Queued requests stay Pending and are picked up again on the
// next Start. Idempotent; concurrent Stops wait for the first.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		// Wait unbounded in background; caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.teardownPool()
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		s.publish("engine.stopped", PoolEvent{})
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Any("err", ctx.Err()))
	}
}

// Submit queues a generation request on the least-loaded session, or on
// the overflow queue when no session can take it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Enqueued, error) {
	if !s.isRunning() {
		return Enqueued{}, ErrQueueNotRunning
	}
	r, err := newRequest(in)
	if err != nil {
		return Enqueued{}, err
	}
	s.reqs.put(r)
	s.pool.noteSubmitted()
	avg := s.pool.aggregateAvg()

	if workerID, pos, ok := s.pool.assign(r); ok {
		s.reqs.noteQueued(r.ID, workerID, pos)
		s.log.Debug("request queued",
			logx.String("request", r.ID),
			logx.String("worker", workerID),
			logx.Int("position", pos))
		s.publish("request.queued", RequestEvent{ID: r.ID, Worker: workerID, Position: pos})
		return Enqueued{
			ID:            r.ID,
			Status:        PlacedWorker,
			WorkerID:      workerID,
			Position:      pos,
			EstimatedWait: time.Duration(pos) * avg,
		}, nil
	}

	pos := s.queue.push(r)
	s.reqs.noteQueued(r.ID, "", pos)
	s.log.Debug("request queued globally",
		logx.String("request", r.ID),
		logx.Int("position", pos))
	s.publish("request.queued", RequestEvent{ID: r.ID, Position: pos})
	return Enqueued{
		ID:            r.ID,
		Status:        PlacedGlobal,
		Position:      pos,
		EstimatedWait: time.Duration(pos) * avg,
	}, nil
}

// SubmitDirect runs one request synchronously on a fully idle session,
// creating one when the pool has room. The queues are bypassed; the call
// returns the terminal request.
func (s *Service) SubmitDirect(ctx context.Context, in SubmitInput) (*Request, error) {
	if !s.isRunning() {
		return nil, ErrQueueNotRunning
	}
	r, err := newRequest(in)
	if err != nil {
		return nil, err
	}
	s.reqs.put(r)
	s.pool.noteSubmitted()

	w := s.pool.claimIdle(r)
	if w == nil {
		id, cerr := s.createWorker(ctx)
		if cerr == nil {
			w = s.pool.claim(id, r)
		}
		if w == nil {
			// The fresh session may have been claimed by the tick; fall
			// back to any idle one.
			w = s.pool.claimIdle(r)
		}
		if w == nil {
			if cerr == nil {
				cerr = ErrPoolExhausted
			}
			s.reqs.finish(r.ID, StatusFailed, cerr.Error(), nil)
			return nil, cerr
		}
	}
	if !s.reqs.markProcessing(r.ID, w.id) {
		if next := s.pool.completeJob(w, StatusCancelled, 0); next != nil {
			s.startOrRelease(w, next)
		}
		out, _ := s.reqs.copyOf(r.ID)
		return out, nil
	}
	s.publish("request.started", RequestEvent{ID: r.ID, Worker: w.id})
	s.runJob(ctx, w, r)
	out, _ := s.reqs.copyOf(r.ID)
	return out, nil
}

// Status returns a detached copy of the request's current state.
func (s *Service) Status(id string) (*Request, bool) {
	return s.reqs.copyOf(id)
}

// Cancel marks a request cancelled. Queued entries are unlinked
// immediately; an in-flight one is abandoned at its next checkpoint.
// False means the request is unknown or already terminal.
func (s *Service) Cancel(id string) bool {
	prior, ok := s.reqs.cancel(id)
	if !ok {
		return false
	}
	if prior == StatusPending {
		if !s.queue.remove(id) {
			s.pool.removeQueued(id)
		}
	}
	s.log.Info("request cancelled", logx.String("request", id))
	s.publish("request.cancelled", RequestEvent{ID: id})
	return true
}

// PoolStatus reports per-session and aggregate pool state.
func (s *Service) PoolStatus() PoolStatus {
	cfg := s.config()
	st := s.pool.status(s.isRunning(), cfg.MaxWorkers)
	st.GlobalQueue = s.queue.len()
	return st
}

// Await polls the request until it reaches a terminal status or ctx ends.
// poll <= 0 uses a 5s interval.
func (s *Service) Await(ctx context.Context, id string, poll time.Duration) (*Request, error) {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		r, ok := s.reqs.copyOf(id)
		if !ok {
			return nil, fmt.Errorf("unknown request %s", id)
		}
		if r.Status.Terminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Snapshot reports scheduler internals for diagnostics.
func (s *Service) Snapshot() Snapshot {
	_, pending := s.pool.counts()
	snap := Snapshot{
		Running:          s.isRunning(),
		Ticks:            s.ticks.Load(),
		PendingCreations: pending,
		TrackedRequests:  s.reqs.len(),
		Pool:             s.PoolStatus(),
		Breaker:          s.breaker.state(time.Now()),
	}
	if ns := s.lastTickNano.Load(); ns > 0 {
		snap.LastTick = time.Unix(0, ns)
	}
	return snap
}

// RemoveWorker tears down one session by id, requeueing its pending FIFO
// onto the overflow queue. The in-flight request, if any, is cancelled.
func (s *Service) RemoveWorker(ctx context.Context, id string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.teardownWorker(ctx, id, "removed") {
		return false
	}
	s.log.Info("session removed", logx.String("worker", id))
	return true
}

// Apply swaps tunables at runtime. The tick interval is captured at
// Start, so changing it takes effect on the next Start; everything else
// is read per operation. Sessions are never torn down by a config change.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	s.breaker.configure(cfg.BreakerThreshold, cfg.BreakerCooldown)
	if prev.TickInterval != cfg.TickInterval {
		s.log.Info("tick interval change applies on next start",
			logx.Duration("current", prev.TickInterval),
			logx.Duration("next", cfg.TickInterval))
	}
}

// Supervisor returns the engine's supervisor for operational visibility
// (nil while stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) runLoop(ctx context.Context, stopCh chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			n++
			s.tick(ctx, n)
		}
	}
}

// tick runs one scheduler pass. Panics are contained; the loop must
// survive anything a pass does.
func (s *Service) tick(ctx context.Context, n uint64) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("tick panic",
				logx.Any("panic", p),
				logx.Stack(string(debug.Stack())))
		}
	}()

	s.drainGlobal()
	s.startReady()
	s.considerGrowth(ctx)

	cfg := s.config()
	if n%uint64(cfg.CleanupEvery) == 0 {
		s.kickCleanup(cfg.IdleTimeout)
	}
	s.pool.recomputeAggregate()
	s.ticks.Add(1)
	s.lastTickNano.Store(time.Now().UnixNano())
}

// drainGlobal promotes overflow requests onto session FIFOs while
// capacity exists, preserving FIFO order.
func (s *Service) drainGlobal() {
	for {
		r := s.queue.pop()
		if r == nil {
			return
		}
		if st, ok := s.reqs.statusOf(r.ID); !ok || st.Terminal() {
			continue
		}
		workerID, pos, ok := s.pool.assign(r)
		if !ok {
			s.queue.pushFront(r)
			return
		}
		s.reqs.noteQueued(r.ID, workerID, pos)
	}
}

// startReady starts one job per session whose FIFO head is ready.
func (s *Service) startReady() {
	for _, pair := range s.pool.dispatchReady() {
		s.startOrRelease(pair.w, pair.r)
	}
}

// startOrRelease claims work for a session that just popped its FIFO: it
// walks past entries that turned terminal while queued, starts the first
// live one, and rolls the claim back when the engine is stopping so the
// request stays Pending.
func (s *Service) startOrRelease(w *workerSession, r *Request) {
	for r != nil {
		if !s.isRunning() {
			if !s.pool.restoreHead(w, r) {
				s.queue.pushFront(r)
				s.reqs.noteQueued(r.ID, "", 1)
			}
			return
		}
		if s.reqs.markProcessing(r.ID, w.id) {
			s.publish("request.started", RequestEvent{ID: r.ID, Worker: w.id})
			s.dispatch(w, r)
			return
		}
		r = s.pool.completeJob(w, StatusCancelled, 0)
	}
}

// dispatch hands a claimed request to a job goroutine.
func (s *Service) dispatch(w *workerSession, r *Request) {
	sup := s.currentSup()
	if sup == nil {
		// Stop raced the claim; roll it back.
		s.reqs.markPending(r.ID)
		if !s.pool.restoreHead(w, r) {
			s.queue.pushFront(r)
			s.reqs.noteQueued(r.ID, "", 1)
		}
		return
	}
	sup.Go("job", func(ctx context.Context) error {
		s.runJob(ctx, w, r)
		return nil
	})
}

// considerGrowth starts at most one background session creation per tick.
// Triggers: the pool still warming to its initial size, overflow backlog,
// or every serving session already loaded.
func (s *Service) considerGrowth(ctx context.Context) {
	cfg := s.config()
	size, pending := s.pool.counts()
	if pending > 0 {
		return
	}
	warming := size < cfg.InitialWorkers
	backlog := s.queue.len() > 0
	assignable, allLoaded := s.pool.demand()
	if !warming && !backlog && !(assignable && allLoaded) {
		return
	}
	if size >= cfg.MaxWorkers {
		if backlog && shouldWarn(&s.exhaustedWarn, time.Now()) {
			queued := s.queue.len()
			s.log.Warn("pool exhausted",
				logx.Int("workers", size),
				logx.Int("queued", queued))
			s.publish("pool.exhausted", PoolEvent{Workers: size, Max: cfg.MaxWorkers, Queued: queued})
		}
		return
	}
	if s.breaker.isOpen(time.Now()) {
		return
	}
	if size+1 > cfg.SoftCap && s.gate != nil && !s.gate.Allow(ctx) {
		return
	}
	sup := s.currentSup()
	if sup == nil {
		return
	}
	sup.Go("grow", func(c context.Context) error {
		if _, err := s.createWorker(c); err != nil && !errors.Is(err, ErrPoolExhausted) {
			s.log.Warn("session creation failed", logx.Err(err))
		}
		return nil
	})
}

// createWorker allocates a driver, authenticates it, and registers the
// session Idle. The reservation holds a slot against the hard cap for the
// whole creation so concurrent growth cannot overshoot.
func (s *Service) createWorker(ctx context.Context) (string, error) {
	cfg := s.config()
	if !s.pool.reserve(cfg.MaxWorkers) {
		return "", ErrPoolExhausted
	}
	d, err := s.factory.NewDriver(ctx)
	if err != nil {
		s.pool.unreserve()
		if s.breaker.recordFailure(time.Now()) {
			s.log.Warn("pool growth paused", logx.Err(err))
		}
		return "", fmt.Errorf("new driver: %w", err)
	}
	if err := s.authenticate(ctx, d); err != nil {
		s.pool.unreserve()
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = d.Close(closeCtx)
		cancel()
		s.publish("worker.auth_failed", WorkerEvent{Error: err.Error()})
		if s.breaker.recordFailure(time.Now()) {
			s.log.Warn("pool growth paused", logx.Err(err))
		}
		return "", err
	}
	w := &workerSession{id: uuid.NewString(), driver: d, createdAt: time.Now()}
	s.pool.register(w)
	s.breaker.recordSuccess()
	s.log.Info("session created", logx.String("worker", w.id))
	s.publish("worker.created", WorkerEvent{Worker: w.id})
	return w.id, nil
}

// teardownWorker detaches and closes one session. Still-pending FIFO
// entries rejoin the overflow queue; an in-flight request is cancelled.
func (s *Service) teardownWorker(ctx context.Context, id, reason string) bool {
	w, current, queued := s.pool.remove(id)
	if w == nil {
		return false
	}
	if current != nil {
		if _, ok := s.reqs.cancel(current.ID); ok {
			s.publish("request.cancelled", RequestEvent{ID: current.ID, Worker: id})
		}
	}
	if rs := s.reqs.requeueable(queued); len(rs) > 0 {
		s.queue.pushAll(rs)
		s.log.Info("requeued jobs from removed session",
			logx.String("worker", id),
			logx.Int("count", len(rs)))
	}
	// Close may race an in-flight job on the same driver; the transport
	// tolerates it and the job surfaces the abort as a normal failure.
	_ = w.driver.Close(ctx)
	s.publish("worker.removed", WorkerEvent{Worker: id, Reason: reason})
	return true
}

func (s *Service) teardownPool() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, w := range s.pool.all() {
		s.teardownWorker(ctx, w.id, "shutdown")
	}
}

// kickCleanup runs idle reclamation on the supervisor, collapsing
// overlapping passes.
func (s *Service) kickCleanup(threshold time.Duration) {
	if !s.cleaning.CompareAndSwap(false, true) {
		return
	}
	sup := s.currentSup()
	if sup == nil {
		s.cleaning.Store(false)
		return
	}
	sup.Go("cleanup", func(ctx context.Context) error {
		defer s.cleaning.Store(false)
		if n := s.cleanupIdle(ctx, threshold); n > 0 {
			s.log.Info("idle sessions reclaimed", logx.Int("count", n))
		}
		return nil
	})
}

// runJob executes one request and always runs the completion path, even
// when the executor panics.
func (s *Service) runJob(ctx context.Context, w *workerSession, r *Request) {
	start := time.Now()
	var result map[string]any
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("executor panic: %v", p)
				s.log.Error("executor panic",
					logx.String("request", r.ID),
					logx.Any("panic", p),
					logx.Stack(string(debug.Stack())))
			}
		}()
		result, err = s.execute(ctx, w, r)
	}()
	if err != nil && ctx.Err() != nil {
		// Shutdown or caller abandonment, not a surface failure.
		err = context.Canceled
	}
	s.finish(ctx, w, r, result, err, time.Since(start))
}

// finish finalizes one job: terminal status (first writer wins), session
// bookkeeping, events, the archive record, and chaining the session onto
// its next queued request.
func (s *Service) finish(ctx context.Context, w *workerSession, r *Request, result map[string]any, err error, elapsed time.Duration) {
	final := StatusCompleted
	errMsg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		final = StatusCancelled
	default:
		final = StatusFailed
		errMsg = err.Error()
	}
	final = s.reqs.finish(r.ID, final, errMsg, result)
	next := s.pool.completeJob(w, final, elapsed)

	switch final {
	case StatusCompleted:
		s.log.Info("request completed",
			logx.String("request", r.ID),
			logx.String("worker", w.id),
			logx.Duration("elapsed", elapsed))
		s.publish("request.completed", RequestEvent{ID: r.ID, Worker: w.id, ElapsedMS: elapsed.Milliseconds()})
	case StatusFailed:
		s.log.Warn("request failed",
			logx.String("request", r.ID),
			logx.String("worker", w.id),
			logx.Duration("elapsed", elapsed),
			logx.Err(err))
		s.publish("request.failed", RequestEvent{ID: r.ID, Worker: w.id, Error: errMsg})
		if errors.Is(err, ErrSessionStuck) {
			s.publish("worker.stuck", WorkerEvent{Worker: w.id, Error: errMsg})
		}
	case StatusCancelled:
		s.log.Debug("request abandoned", logx.String("request", r.ID))
	}

	s.record(ctx, w.id, r, final, errMsg, result, elapsed)

	if next != nil {
		s.startOrRelease(w, next)
	}
}

// record archives the outcome, best-effort. Failures are logged only and
// never revert a terminal status.
func (s *Service) record(ctx context.Context, workerID string, r *Request, final RequestStatus, errMsg string, result map[string]any, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	if final != StatusCompleted && final != StatusFailed {
		return
	}
	rec := storage.GenerationRecord{
		RequestID:   r.ID,
		WorkerID:    workerID,
		Status:      string(final),
		Title:       r.Title,
		UserID:      r.UserID,
		ProjectID:   r.ProjectID,
		Error:       errMsg,
		CreatedAt:   r.CreatedAt,
		CompletedAt: time.Now(),
		ElapsedMS:   elapsed.Milliseconds(),
	}
	if cp, ok := s.reqs.copyOf(r.ID); ok {
		rec.StartedAt = cp.StartedAt
	}
	if v, ok := result["url"].(string); ok {
		rec.ArtifactURL = v
	}
	if v, ok := result["key"].(string); ok {
		rec.ArtifactKey = v
	}
	if v, ok := result["size"].(int64); ok {
		rec.ArtifactSize = v
	}
	if _, err := s.recorder.CreateRecord(ctx, rec); err != nil {
		s.log.Warn("archive write failed", logx.String("request", r.ID), logx.Err(err))
	}
}

func newRequest(in SubmitInput) (*Request, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}
	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Request{
		ID:           uuid.NewString(),
		Prompt:       prompt,
		Lyrics:       in.Lyrics,
		Instrumental: in.Instrumental,
		Title:        strings.TrimSpace(in.Title),
		UserID:       in.UserID,
		ProjectID:    in.ProjectID,
		Priority:     in.Priority,
		MaxRetries:   maxRetries,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}, nil
}

func (s *Service) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

func (s *Service) currentSup() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil || s.stopDone != nil {
		return nil
	}
	return s.sup
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// shouldWarn rate-limits repeated warnings to one per 5s window.
func shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	if now.UnixNano()-prev < int64(5*time.Second) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, now.UnixNano())
}
