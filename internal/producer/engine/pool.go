package engine

import (
	"sync"
	"time"

	"producerd/internal/browser"
)

// workerSession is one authenticated browser session plus its local FIFO.
//
// Every field is guarded by the owning pool's mutex. The driver handle is
// exempt: it is only touched by the single job goroutine (or health probe)
// that holds the session at that moment, serialized by the current-request
// invariant (current != nil <=> Busy).
type workerSession struct {
	id     string
	driver browser.Driver

	status  WorkerStatus
	queue   []*Request
	current *Request
	genCtx  map[string]any

	createdAt      time.Time
	lastActivity   time.Time
	lastAuthOK     time.Time
	totalProcessed int64
	totalFailed    int64
	avgProcessing  time.Duration
}

// load counts outstanding jobs: the FIFO plus the in-flight one.
func (w *workerSession) load() int {
	n := len(w.queue)
	if w.current != nil {
		n++
	}
	return n
}

func (w *workerSession) beginJobLocked(r *Request, now time.Time) {
	w.current = r
	w.status = WorkerBusy
	w.lastActivity = now
	w.genCtx = map[string]any{
		"request_id": r.ID,
		"started_at": now,
	}
}

func (w *workerSession) statsLocked() WorkerStats {
	st := WorkerStats{
		ID:             w.id,
		Status:         w.status,
		QueueLength:    len(w.queue),
		CreatedAt:      w.createdAt,
		LastActivity:   w.lastActivity,
		TotalProcessed: w.totalProcessed,
		TotalFailed:    w.totalFailed,
		AvgProcessing:  w.avgProcessing,
	}
	if w.current != nil {
		st.CurrentRequest = w.current.ID
	}
	if len(w.genCtx) > 0 {
		st.Generation = make(map[string]any, len(w.genCtx))
		for k, v := range w.genCtx {
			st.Generation[k] = v
		}
	}
	return st
}

// sessionPool is the insertion-ordered session registry. It owns worker
// state, the creation reservation counter, and the aggregate counters.
type sessionPool struct {
	mu      sync.Mutex
	workers map[string]*workerSession
	order   []string
	pending int
	stats   AggregateStats
}

func newSessionPool() *sessionPool {
	return &sessionPool{
		workers: map[string]*workerSession{},
		stats:   AggregateStats{UptimeStart: time.Now()},
	}
}

// reserve claims a creation slot against the hard cap, counting creations
// already in flight. A successful reserve must be paired with register or
// unreserve.
func (p *sessionPool) reserve(max int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers)+p.pending >= max {
		return false
	}
	p.pending++
	return true
}

func (p *sessionPool) unreserve() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

// register installs a freshly authenticated session as Idle, consuming
// its reservation.
func (p *sessionPool) register(w *workerSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	now := time.Now()
	w.status = WorkerIdle
	if w.createdAt.IsZero() {
		w.createdAt = now
	}
	w.lastActivity = now
	w.lastAuthOK = now
	p.workers[w.id] = w
	p.order = append(p.order, w.id)
}

// remove detaches a session and reports what it was holding. The detached
// session is marked Offline so stale references can't be dispatched to.
func (p *sessionPool) remove(id string) (w *workerSession, current *Request, queued []*Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w = p.workers[id]
	if w == nil {
		return nil, nil, nil
	}
	delete(p.workers, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	current = w.current
	queued = w.queue
	w.current = nil
	w.queue = nil
	w.genCtx = nil
	w.status = WorkerOffline
	return w, current, queued
}

// assign places the request on the least-loaded live session's FIFO and
// returns its 1-based position there.
func (p *sessionPool) assign(r *Request) (workerID string, position int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.leastLoadedLocked()
	if w == nil {
		return "", 0, false
	}
	w.queue = append(w.queue, r)
	return w.id, len(w.queue), true
}

// leastLoadedLocked picks the Idle-or-Busy session with the fewest
// outstanding jobs, breaking ties by registry insertion order.
func (p *sessionPool) leastLoadedLocked() *workerSession {
	var best *workerSession
	bestLoad := 0
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil {
			continue
		}
		if w.status != WorkerIdle && w.status != WorkerBusy {
			continue
		}
		if load := w.load(); best == nil || load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// removeQueued drops a request from whichever session FIFO holds it.
func (p *sessionPool) removeQueued(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		for i, r := range w.queue {
			if r.ID == id {
				w.queue = append(w.queue[:i], w.queue[i+1:]...)
				return true
			}
		}
	}
	return false
}

// dispatch pairs a session with the request it should run next.
type dispatchPair struct {
	w *workerSession
	r *Request
}

// dispatchReady pops the FIFO head of every free session, marking it Busy.
// The caller starts one job goroutine per pair.
func (p *sessionPool) dispatchReady() []dispatchPair {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dispatchPair
	now := time.Now()
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil || w.current != nil || len(w.queue) == 0 {
			continue
		}
		if w.status != WorkerIdle && w.status != WorkerBusy {
			continue
		}
		r := w.queue[0]
		w.queue = w.queue[1:]
		w.beginJobLocked(r, now)
		out = append(out, dispatchPair{w: w, r: r})
	}
	return out
}

// claimIdle grabs a fully idle session for immediate execution, bypassing
// the FIFOs. Sessions with queued work are skipped so direct submissions
// cannot jump their line.
func (p *sessionPool) claimIdle(r *Request) *workerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil || w.status != WorkerIdle || w.current != nil || len(w.queue) > 0 {
			continue
		}
		w.beginJobLocked(r, time.Now())
		return w
	}
	return nil
}

// claim marks one specific session busy with r. Used right after a
// direct-submission creation.
func (p *sessionPool) claim(id string, r *Request) *workerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[id]
	if w == nil || w.status != WorkerIdle || w.current != nil {
		return nil
	}
	w.beginJobLocked(r, time.Now())
	return w
}

// completeJob finalizes the session after a job and chains it straight
// onto its next queued request, staying Busy, so the FIFO never waits a
// tick. It returns the chained request, if any.
func (p *sessionPool) completeJob(w *workerSession, final RequestStatus, elapsed time.Duration) (next *Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch final {
	case StatusCompleted:
		w.totalProcessed++
		w.avgProcessing = incrementalMean(w.avgProcessing, w.totalProcessed, elapsed)
		p.stats.Completed++
	case StatusFailed:
		w.totalFailed++
		p.stats.Failed++
	}
	w.current = nil
	w.genCtx = nil
	w.lastActivity = time.Now()
	if _, live := p.workers[w.id]; !live {
		// Removed mid-flight; nothing to chain.
		return nil
	}
	if len(w.queue) > 0 {
		next = w.queue[0]
		w.queue = w.queue[1:]
		w.beginJobLocked(next, time.Now())
		return next
	}
	w.status = WorkerIdle
	return nil
}

// restoreHead undoes a chain claim: the request goes back to the front of
// the session FIFO and the session parks Idle. False means the session is
// gone and the caller must requeue elsewhere.
func (p *sessionPool) restoreHead(w *workerSession, r *Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.workers[w.id]; !live {
		return false
	}
	if w.current != r {
		return false
	}
	w.current = nil
	w.genCtx = nil
	w.queue = append([]*Request{r}, w.queue...)
	w.status = WorkerIdle
	return true
}

// parkIdle marks every fully idle session past threshold Offline so the
// scheduler leaves it alone while its health is probed. threshold 0 parks
// all idle sessions.
func (p *sessionPool) parkIdle(threshold time.Duration, now time.Time) []*workerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*workerSession
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil || w.status != WorkerIdle || w.current != nil || len(w.queue) > 0 {
			continue
		}
		if now.Sub(w.lastActivity) < threshold {
			continue
		}
		w.status = WorkerOffline
		out = append(out, w)
	}
	return out
}

// unpark returns a parked session to service.
func (p *sessionPool) unpark(w *workerSession, authOK bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, live := p.workers[w.id]; !live {
		return
	}
	w.status = WorkerIdle
	w.lastActivity = time.Now()
	if authOK {
		w.lastAuthOK = time.Now()
	}
}

// markBroken flags a parked session that failed its health probe. It is
// torn down right after; the status makes the in-between state visible.
func (p *sessionPool) markBroken(w *workerSession) {
	p.mu.Lock()
	w.status = WorkerError
	p.mu.Unlock()
}

// authFresh reports whether the session's last verified login is within
// ttl of now.
func (p *sessionPool) authFresh(w *workerSession, ttl time.Duration, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !w.lastAuthOK.IsZero() && now.Sub(w.lastAuthOK) < ttl
}

func (p *sessionPool) noteAuthOK(w *workerSession) {
	p.mu.Lock()
	w.lastAuthOK = time.Now()
	p.mu.Unlock()
}

// notePhase records the executor step a session is in and counts it as
// activity.
func (p *sessionPool) notePhase(w *workerSession, phase string) {
	p.mu.Lock()
	if w.genCtx != nil {
		w.genCtx["phase"] = phase
	}
	w.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *sessionPool) noteSubmitted() {
	p.mu.Lock()
	p.stats.TotalRequests++
	p.mu.Unlock()
}

func (p *sessionPool) aggregateAvg() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.AvgProcessing
}

// recomputeAggregate refreshes the pool-wide mean as the processed-count
// weighted mean over live sessions. With no completions yet the previous
// value stands.
func (p *sessionPool) recomputeAggregate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total, weighted int64
	for _, w := range p.workers {
		if w.totalProcessed == 0 {
			continue
		}
		total += w.totalProcessed
		weighted += int64(w.avgProcessing) * w.totalProcessed
	}
	if total > 0 {
		p.stats.AvgProcessing = time.Duration(weighted / total)
	}
}

// counts returns live sessions and creations in flight.
func (p *sessionPool) counts() (size, pending int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers), p.pending
}

// demand reports whether any session can accept work and whether every
// serving session already has at least one job. Both false on an empty
// pool.
func (p *sessionPool) demand() (assignable, allLoaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.status != WorkerIdle && w.status != WorkerBusy {
			continue
		}
		if !assignable {
			assignable = true
			allLoaded = true
		}
		if w.load() == 0 {
			allLoaded = false
		}
	}
	return assignable, allLoaded
}

func (p *sessionPool) status(running bool, max int) PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PoolStatus{
		Running:    running,
		MaxWorkers: max,
		Stats:      p.stats,
		Workers:    make([]WorkerStats, 0, len(p.order)),
	}
	for _, id := range p.order {
		w := p.workers[id]
		if w == nil {
			continue
		}
		st.Total++
		switch w.status {
		case WorkerIdle:
			st.Available++
		case WorkerBusy:
			st.Busy++
		}
		st.Workers = append(st.Workers, w.statsLocked())
	}
	return st
}

// all snapshots every live session in registry order.
func (p *sessionPool) all() []*workerSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*workerSession, 0, len(p.order))
	for _, id := range p.order {
		if w := p.workers[id]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

// incrementalMean folds sample into avg, where n already counts the
// sample: new = old + (sample-old)/n.
func incrementalMean(avg time.Duration, n int64, sample time.Duration) time.Duration {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/time.Duration(n)
}
