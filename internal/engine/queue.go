package engine

import (
	"context"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// RequestType distinguishes protocol actions.
type RequestType int

const (
	RequestPrepare RequestType = iota + 1
	RequestCommit
	RequestCancel
)

func (t RequestType) String() string {
	switch t {
	case RequestPrepare:
		return "prepare"
	case RequestCommit:
		return "commit"
	case RequestCancel:
		return "cancel"
	}
	return "unknown"
}

// Request wraps one protocol action for the queue. Exactly one of the
// payload pointers matching Type is set.
type Request struct {
	Type    RequestType
	Seq     int64
	Prepare *ir.PrepareRequest
	Commit  *ir.CommitRequest
	Cancel  *ir.CancelRequest

	ctx   context.Context
	reply chan outcome
}

// TransactionID returns the transaction the request names.
func (r Request) TransactionID() string {
	switch {
	case r.Prepare != nil:
		return r.Prepare.TransactionID
	case r.Commit != nil:
		return r.Commit.TransactionID
	case r.Cancel != nil:
		return r.Cancel.TransactionID
	}
	return ""
}

// Reply carries the response to a Request.
type Reply struct {
	Prepare ir.PrepareResponse
	Commit  ir.CommitResponse
	Cancel  ir.CancelResponse
}

// requestQueue is a thread-safe unbounded FIFO queue.
//
// Submitters enqueue from any goroutine while the Run loop dequeues. The
// signal channel lets the loop wait for work and for ctx in one select.
type requestQueue struct {
	mu       sync.Mutex
	requests []Request
	closed   bool
	signal   chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		requests: make([]Request, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(r Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front request without blocking.
func (q *requestQueue) TryDequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return Request{}, false
	}
	r := q.requests[0]
	q.requests[0] = Request{}
	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}
	return r, true
}

// Wait returns a channel that signals when requests may be available.
// It is closed when the queue is closed.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Close stops accepting requests and wakes the loop. Requests still queued
// are returned so the caller can fail them.
func (q *requestQueue) Close() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	left := q.requests
	q.requests = nil
	return left
}
