package container

import "sync"

// requestCounter tracks outbound service requests that have not been
// answered. Only the container's own handlers change it.
type requestCounter struct {
	mu      sync.Mutex
	ops     map[string]string // request id -> response operation
	waiters chan struct{}     // closed when the count drops to zero
}

func newRequestCounter() *requestCounter {
	return &requestCounter{ops: make(map[string]string)}
}

func (r *requestCounter) add(id, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[id] = op
}

// done removes an outstanding request and returns its response operation.
func (r *requestCounter) done(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return "", false
	}
	delete(r.ops, id)
	if len(r.ops) == 0 && r.waiters != nil {
		close(r.waiters)
		r.waiters = nil
	}
	return op, true
}

func (r *requestCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// idle returns a channel that is closed once no request is outstanding.
func (r *requestCounter) idle() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if r.waiters == nil {
		r.waiters = make(chan struct{})
	}
	return r.waiters
}

// reset forgets every outstanding request and wakes waiters.
func (r *requestCounter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.ops)
	if r.waiters != nil {
		close(r.waiters)
		r.waiters = nil
	}
}
