package node

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

func newContainer(component, instance string) *container.Container {
	return container.New(ir.ComponentItem{ComponentID: component, InstanceID: instance}, ir.Descriptor{ComponentID: component})
}

func TestAttach_AllOrNothing(t *testing.T) {
	rt := New("d1")
	require.NoError(t, rt.Attach(newContainer("map", "m1")))

	err := rt.Attach(newContainer("map", "m2"), newContainer("map", "m1"))

	assert.ErrorIs(t, err, ErrDuplicateInstance)
	_, ok := rt.Container("m2")
	assert.False(t, ok, "no container of a failed attach becomes visible")
	assert.Len(t, rt.Containers(), 1)
}

func TestLookup_MatchesComponentID(t *testing.T) {
	rt := New("d1")
	require.NoError(t, rt.Attach(newContainer("map", "m1")))

	c, err := rt.Lookup(ir.ComponentItem{ComponentID: "map", InstanceID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", c.Item().InstanceID)

	_, err = rt.Lookup(ir.ComponentItem{ComponentID: "list", InstanceID: "m1"})
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestDetach(t *testing.T) {
	rt := New("d1")
	require.NoError(t, rt.Attach(newContainer("map", "m1"), newContainer("map", "m0")))

	assert.Equal(t, "m0", rt.Containers()[0].Item().InstanceID, "sorted by instance id")

	c, ok := rt.Detach("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", c.Item().InstanceID)
	_, ok = rt.Detach("m1")
	assert.False(t, ok)
}

func TestCatalog(t *testing.T) {
	rt := New("d1")
	require.NoError(t, rt.RegisterDescriptor(ir.Descriptor{ComponentID: "map"}))
	require.NoError(t, rt.RegisterDescriptor(ir.Descriptor{ComponentID: "list"}))
	assert.Error(t, rt.RegisterDescriptor(ir.Descriptor{}))

	_, ok := rt.Descriptor("map")
	assert.True(t, ok)
	ds := rt.Descriptors()
	require.Len(t, ds, 2)
	assert.Equal(t, "list", ds[0].ComponentID)
}

type memJournal struct {
	mu          sync.Mutex
	txs         []ir.Transaction
	transitions []ir.Transition
	states      map[string][]ir.MigratedState
	fail        error
}

func (j *memJournal) SaveTransaction(_ context.Context, tx ir.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs = append(j.txs, tx)
	return j.fail
}

func (j *memJournal) AppendTransition(_ context.Context, tr ir.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, tr)
	return j.fail
}

func (j *memJournal) SaveCheckpoints(_ context.Context, id string, states []ir.MigratedState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.states == nil {
		j.states = make(map[string][]ir.MigratedState)
	}
	j.states[id] = states
	return j.fail
}

func TestHistory_RecordsAndJournals(t *testing.T) {
	j := &memJournal{}
	rt := New("d1", WithJournal(j))
	h := rt.History()
	ctx := context.Background()

	tx, err := h.Begin(ctx, ir.Transaction{ID: "tx1", MigrationID: "mig1", Role: ir.RoleSource, State: ir.TxPending})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Seq)

	_, err = h.Transition(ctx, "tx1", ir.TxPreparing, "")
	require.NoError(t, err)
	tr, err := h.Transition(ctx, "tx1", ir.TxReady, "all ready")
	require.NoError(t, err)
	require.NoError(t, h.Resolve(ctx, "tx1", ir.AllComponentsReady, ""))

	assert.Equal(t, ir.TxPreparing, tr.From)
	assert.Equal(t, int64(3), tr.Seq)

	got, ok := h.Get("tx1")
	require.True(t, ok)
	assert.Equal(t, ir.TxReady, got.State)
	assert.Equal(t, ir.AllComponentsReady, got.Code)
	assert.Len(t, h.Transitions("tx1"), 2)

	assert.Len(t, j.transitions, 2)
	assert.Equal(t, ir.AllComponentsReady, j.txs[len(j.txs)-1].Code)
}

func TestHistory_ContinuesSeq(t *testing.T) {
	h := New("d1", WithHistorySeq(41)).History()

	tx, err := h.Begin(context.Background(), ir.Transaction{ID: "tx1", State: ir.TxPending})

	require.NoError(t, err)
	assert.Equal(t, int64(42), tx.Seq)
}

func TestHistory_JournalFailureDoesNotFailChange(t *testing.T) {
	j := &memJournal{fail: errors.New("disk full")}
	h := New("d1", WithJournal(j)).History()
	ctx := context.Background()

	_, err := h.Begin(ctx, ir.Transaction{ID: "tx1", State: ir.TxPending})
	require.NoError(t, err)
	_, err = h.Transition(ctx, "tx1", ir.TxPreparing, "")
	require.NoError(t, err)

	got, _ := h.Get("tx1")
	assert.Equal(t, ir.TxPreparing, got.State)
}

func TestHistory_Errors(t *testing.T) {
	h := New("d1").History()
	ctx := context.Background()
	_, err := h.Begin(ctx, ir.Transaction{ID: "tx1"})
	require.NoError(t, err)

	_, err = h.Begin(ctx, ir.Transaction{ID: "tx1"})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	_, err = h.Transition(ctx, "nope", ir.TxDone, "")
	assert.ErrorIs(t, err, ErrUnknownTransaction)
	assert.ErrorIs(t, h.Resolve(ctx, "nope", ir.Committed, ""), ErrUnknownTransaction)
}

func TestNotifier_FanOutAndBacklog(t *testing.T) {
	rt := New("d1", WithNotificationBacklog(2))
	ch, cancel := rt.Notifier().Subscribe(4)

	rt.Notify(ir.LevelInfo, "tx1", "", "one")
	rt.Notify(ir.LevelError, "tx1", "m1", "two")
	rt.Notify(ir.LevelIntervention, "tx1", "m1", "three")

	assert.Equal(t, "one", (<-ch).Message)
	assert.Equal(t, "two", (<-ch).Message)
	third := <-ch
	assert.Equal(t, int64(3), third.Seq)
	assert.Equal(t, ir.LevelIntervention, third.Level)

	recent := rt.Notifier().Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Message)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestNotifier_SlowSubscriberDoesNotBlock(t *testing.T) {
	rt := New("d1")
	_, cancel := rt.Notifier().Subscribe(0)
	defer cancel()

	rt.Notify(ir.LevelInfo, "", "", "dropped")

	assert.Len(t, rt.Notifier().Recent(), 1)
}
