package engine

import (
	"sync"
	"time"
)

// globalQueue is the FIFO overflow buffer used when no session can take
// an assignment.
type globalQueue struct {
	mu    sync.Mutex
	items []*Request
}

// push appends and returns the 1-based position.
func (q *globalQueue) push(r *Request) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
	return len(q.items)
}

func (q *globalQueue) pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

// pushFront returns a just-popped request to the head, preserving order
// when a drain pass runs out of capacity.
func (q *globalQueue) pushFront(r *Request) {
	q.mu.Lock()
	q.items = append([]*Request{r}, q.items...)
	q.mu.Unlock()
}

// pushAll appends a batch in order. Used when a removed session's FIFO
// rejoins the tail.
func (q *globalQueue) pushAll(rs []*Request) {
	if len(rs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, rs...)
	q.mu.Unlock()
}

func (q *globalQueue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *globalQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// requestIndex tracks every request ever submitted, keyed by id. Entries
// are kept after completion so Status stays answerable for the process
// lifetime; long-lived deployments bound history via the archive instead.
type requestIndex struct {
	mu sync.Mutex
	m  map[string]*Request
}

func newRequestIndex() *requestIndex {
	return &requestIndex{m: map[string]*Request{}}
}

func (x *requestIndex) put(r *Request) {
	x.mu.Lock()
	x.m[r.ID] = r
	x.mu.Unlock()
}

// copyOf returns a detached copy safe to hand to callers.
func (x *requestIndex) copyOf(id string) (*Request, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil {
		return nil, false
	}
	out := *r
	if r.Result != nil {
		out.Result = make(map[string]any, len(r.Result))
		for k, v := range r.Result {
			out.Result[k] = v
		}
	}
	return &out, true
}

func (x *requestIndex) statusOf(id string) (RequestStatus, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil {
		return "", false
	}
	return r.Status, true
}

// noteQueued refreshes placement bookkeeping while the request is Pending.
func (x *requestIndex) noteQueued(id, workerID string, pos int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil || r.Status != StatusPending {
		return
	}
	r.WorkerID = workerID
	r.Position = pos
}

// markProcessing transitions Pending to Processing. It refuses requests
// that are no longer Pending so a cancellation that raced the dispatch
// wins.
func (x *requestIndex) markProcessing(id, workerID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil || r.Status != StatusPending {
		return false
	}
	r.Status = StatusProcessing
	r.WorkerID = workerID
	r.Position = 0
	r.StartedAt = time.Now()
	return true
}

// markPending rolls a claimed request back to Pending. Used when a
// dispatch is undone during shutdown.
func (x *requestIndex) markPending(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil || r.Status != StatusProcessing {
		return
	}
	r.Status = StatusPending
	r.StartedAt = time.Time{}
}

// finish applies a terminal status. The first terminal transition wins;
// later callers get the recorded status back.
func (x *requestIndex) finish(id string, final RequestStatus, errMsg string, result map[string]any) RequestStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil {
		return final
	}
	if r.Status.Terminal() {
		return r.Status
	}
	r.Status = final
	r.CompletedAt = time.Now()
	if errMsg != "" {
		r.Error = errMsg
	}
	if result != nil {
		r.Result = result
	}
	return final
}

// cancel marks a request Cancelled unless it is already terminal. It
// reports the prior status so callers can unlink queued entries.
func (x *requestIndex) cancel(id string) (prior RequestStatus, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := x.m[id]
	if r == nil {
		return "", false
	}
	if r.Status.Terminal() {
		return r.Status, false
	}
	prior = r.Status
	r.Status = StatusCancelled
	r.CompletedAt = time.Now()
	return prior, true
}

// requeueable filters a requeue batch down to the still-Pending requests
// and clears their placement so they rejoin the global queue cleanly.
func (x *requestIndex) requeueable(rs []*Request) []*Request {
	if len(rs) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]*Request, 0, len(rs))
	for _, r := range rs {
		if r.Status != StatusPending {
			continue
		}
		r.WorkerID = ""
		r.Position = 0
		out = append(out, r)
	}
	return out
}

func (x *requestIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.m)
}
