package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// recordingHandler records the order requests are handled in and checks
// that no two overlap.
type recordingHandler struct {
	mu      sync.Mutex
	active  int
	overlap bool
	order   []string
	hold    chan struct{}
}

func (h *recordingHandler) enter(id string) {
	h.mu.Lock()
	h.active++
	if h.active > 1 {
		h.overlap = true
	}
	h.order = append(h.order, id)
	hold := h.hold
	h.mu.Unlock()
	if hold != nil {
		<-hold
	}
}

func (h *recordingHandler) leave() {
	h.mu.Lock()
	h.active--
	h.mu.Unlock()
}

func (h *recordingHandler) Prepare(_ context.Context, req ir.PrepareRequest) ir.PrepareResponse {
	h.enter(req.TransactionID)
	defer h.leave()
	return ir.PrepareResponse{TransactionID: req.TransactionID, Code: ir.AllComponentsReady}
}

func (h *recordingHandler) Commit(_ context.Context, req ir.CommitRequest) ir.CommitResponse {
	h.enter(req.TransactionID)
	defer h.leave()
	return ir.CommitResponse{TransactionID: req.TransactionID, Code: ir.Committed}
}

func (h *recordingHandler) Cancel(_ context.Context, req ir.CancelRequest) ir.CancelResponse {
	h.enter(req.TransactionID)
	defer h.leave()
	code := ir.Cancelled
	if req.ByUser {
		code = ir.MigrationCancelledByUser
	}
	return ir.CancelResponse{TransactionID: req.TransactionID, Code: code}
}

func (h *recordingHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

func start(t *testing.T, h Handler, opts ...Option) *Engine {
	t.Helper()
	e := New(h, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func TestEngine_DispatchesByType(t *testing.T) {
	h := &recordingHandler{}
	e := start(t, h)
	ctx := context.Background()

	pr, err := e.Prepare(ctx, ir.PrepareRequest{TransactionID: "tx-p"})
	require.NoError(t, err)
	assert.Equal(t, ir.AllComponentsReady, pr.Code)

	cr, err := e.Commit(ctx, ir.CommitRequest{TransactionID: "tx-c"})
	require.NoError(t, err)
	assert.Equal(t, ir.Committed, cr.Code)

	xr, err := e.Cancel(ctx, ir.CancelRequest{TransactionID: "tx-x", ByUser: true})
	require.NoError(t, err)
	assert.Equal(t, ir.MigrationCancelledByUser, xr.Code)

	assert.Equal(t, []string{"tx-p", "tx-c", "tx-x"}, h.handled())
	assert.Equal(t, int64(3), e.Clock().Current())
}

func TestEngine_SerializesConcurrentRequests(t *testing.T) {
	h := &recordingHandler{}
	e := start(t, h)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Commit(ctx, ir.CommitRequest{TransactionID: "tx"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.handled(), 20)
	assert.False(t, h.overlap, "requests never overlap")
}

func TestEngine_FIFOOrder(t *testing.T) {
	h := &recordingHandler{hold: make(chan struct{})}
	e := start(t, h)
	ctx := context.Background()

	// The first request holds the loop while the rest queue up.
	results := make(chan error, 3)
	go func() {
		_, err := e.Commit(ctx, ir.CommitRequest{TransactionID: "first"})
		results <- err
	}()
	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, time.Second, time.Millisecond)

	for n, id := range []string{"second", "third"} {
		go func() {
			_, err := e.Commit(ctx, ir.CommitRequest{TransactionID: id})
			results <- err
		}()
		require.Eventually(t, func() bool { return e.queue.Len() == n+1 }, time.Second, time.Millisecond)
	}
	close(h.hold)

	for i := 0; i < 3; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, []string{"first", "second", "third"}, h.handled())
}

func TestEngine_StopFailsQueuedRequests(t *testing.T) {
	h := &recordingHandler{hold: make(chan struct{})}
	e := New(h)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := e.Commit(ctx, ir.CommitRequest{TransactionID: "running"})
		first <- err
	}()
	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, time.Second, time.Millisecond)

	queued := make(chan error, 1)
	go func() {
		_, err := e.Commit(ctx, ir.CommitRequest{TransactionID: "queued"})
		queued <- err
	}()
	require.Eventually(t, func() bool { return e.queue.Len() == 1 }, time.Second, time.Millisecond)

	e.Stop()
	assert.ErrorIs(t, <-queued, ErrStopped)

	close(h.hold)
	assert.NoError(t, <-first, "running request completes")
	assert.NoError(t, <-done)

	_, err := e.Prepare(ctx, ir.PrepareRequest{TransactionID: "late"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_CallerContextCancelled(t *testing.T) {
	h := &recordingHandler{hold: make(chan struct{})}
	e := start(t, h)
	defer close(h.hold)

	go func() { _, _ = e.Commit(context.Background(), ir.CommitRequest{TransactionID: "busy"}) }()
	require.Eventually(t, func() bool { return len(h.handled()) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Cancel(ctx, ir.CancelRequest{TransactionID: "impatient"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = e.Prepare(cancelled, ir.PrepareRequest{TransactionID: "never"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_RunTwice(t *testing.T) {
	e := start(t, &recordingHandler{})
	require.Eventually(t, func() bool { return e.running.Load() }, time.Second, time.Millisecond)

	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)
}
