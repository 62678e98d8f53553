package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Handler answers protocol requests. Implemented by
// distribution.Coordinator.
type Handler interface {
	Prepare(ctx context.Context, req ir.PrepareRequest) ir.PrepareResponse
	Commit(ctx context.Context, req ir.CommitRequest) ir.CommitResponse
	Cancel(ctx context.Context, req ir.CancelRequest) ir.CancelResponse
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the sequencer that stamps requests. Default: NewClock().
func WithClock(s Sequencer) Option {
	return func(e *Engine) { e.clock = s }
}

// Engine is the single-writer protocol loop of one runtime.
//
// Thread-safety model:
//   - Prepare/Commit/Cancel: safe from any goroutine
//   - Run: exactly one goroutine
type Engine struct {
	handler Handler
	clock   Sequencer
	queue   *requestQueue
	log     *slog.Logger
	running atomic.Bool
}

type outcome struct {
	reply Reply
	err   error
}

// New creates an engine dispatching to h.
func New(h Handler, opts ...Option) *Engine {
	e := &Engine{
		handler: h,
		clock:   NewClock(),
		queue:   newRequestQueue(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the sequencer stamping requests.
func (e *Engine) Clock() Sequencer { return e.clock }

// Run processes queued requests in FIFO order until ctx is cancelled or
// Stop is called. Requests still queued at that point fail with
// ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	e.log.Info("engine starting")

	for {
		if r, ok := e.queue.TryDequeue(); ok {
			e.process(r)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			e.Stop()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open {
				e.log.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once the current request is done.
func (e *Engine) Stop() {
	for _, r := range e.queue.Close() {
		r.reply <- outcome{err: ErrStopped}
	}
}

// Prepare submits a PREPARE request and waits for its response.
func (e *Engine) Prepare(ctx context.Context, req ir.PrepareRequest) (ir.PrepareResponse, error) {
	rep, err := e.submit(ctx, Request{Type: RequestPrepare, Prepare: &req})
	return rep.Prepare, err
}

// Commit submits a COMMIT request and waits for its response.
func (e *Engine) Commit(ctx context.Context, req ir.CommitRequest) (ir.CommitResponse, error) {
	rep, err := e.submit(ctx, Request{Type: RequestCommit, Commit: &req})
	return rep.Commit, err
}

// Cancel submits a CANCEL request and waits for its response.
func (e *Engine) Cancel(ctx context.Context, req ir.CancelRequest) (ir.CancelResponse, error) {
	rep, err := e.submit(ctx, Request{Type: RequestCancel, Cancel: &req})
	return rep.Cancel, err
}

func (e *Engine) submit(ctx context.Context, r Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	r.Seq = e.clock.Next()
	r.ctx = ctx
	r.reply = make(chan outcome, 1)
	if !e.queue.Enqueue(r) {
		return Reply{}, ErrStopped
	}
	select {
	case out := <-r.reply:
		return out.reply, out.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// process handles one request.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) process(r Request) {
	log := e.log.With("seq", r.Seq, "type", r.Type, "transaction", r.TransactionID())
	if err := r.ctx.Err(); err != nil {
		log.Warn("request abandoned before processing", "error", err)
		r.reply <- outcome{err: err}
		return
	}
	log.Debug("processing request")

	var out outcome
	switch r.Type {
	case RequestPrepare:
		out.reply.Prepare = e.handler.Prepare(r.ctx, *r.Prepare)
		log.Info("request done", "code", out.reply.Prepare.Code)
	case RequestCommit:
		out.reply.Commit = e.handler.Commit(r.ctx, *r.Commit)
		log.Info("request done", "code", out.reply.Commit.Code)
	case RequestCancel:
		out.reply.Cancel = e.handler.Cancel(r.ctx, *r.Cancel)
		log.Info("request done", "code", out.reply.Cancel.Code)
	default:
		out.err = fmt.Errorf("engine: unknown request type %d", r.Type)
		log.Error("request rejected", "error", out.err)
	}
	r.reply <- out
}
