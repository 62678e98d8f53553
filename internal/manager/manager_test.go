package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/container/containertest"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
)

func descriptors() []ir.Descriptor {
	return []ir.Descriptor{
		{
			ComponentID: "map",
			Migratable:  true,
			Channels:    []string{"geo"},
			Properties:  []ir.PropertyDecl{{Name: "zoom", Type: "int", Default: ir.Int(3)}},
		},
		{
			ComponentID: "list",
			Migratable:  true,
			Channels:    []string{"geo"},
		},
	}
}

func newManager(t *testing.T, opts ...Option) (*Manager, *containertest.Factory) {
	t.Helper()
	rt := node.New("d1")
	for _, d := range descriptors() {
		require.NoError(t, rt.RegisterDescriptor(d))
	}
	factory := containertest.NewFactory()
	opts = append([]Option{
		WithIntegrationTimeout(2 * time.Second),
		WithContainerOptions(container.WithInitTimeout(time.Second)),
	}, opts...)
	return New(rt, factory, opts...), factory
}

func batch(ids ...string) Batch {
	b := Batch{}
	for _, id := range ids {
		comp := "map"
		if id[0] == 'l' {
			comp = "list"
		}
		b.Items = append(b.Items, BatchItem{Item: ir.ComponentItem{ComponentID: comp, InstanceID: id}})
	}
	return b
}

func TestIntegrateBatch_CompletesAllMarks(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))

	job, err := m.IntegrateBatch(context.Background(), batch("m1", "l1"))
	require.NoError(t, err)

	for _, mark := range Marks {
		assert.True(t, job.Checked(mark), "mark %s", mark)
	}
	require.Len(t, job.Containers(), 2)
	for _, c := range job.Containers() {
		assert.Equal(t, container.StateActive, c.State())
	}
	_, ok := m.Runtime().Container("m1")
	assert.True(t, ok)
	assert.Equal(t, []ir.ComponentItem{
		{ComponentID: "list", InstanceID: "l1"},
		{ComponentID: "map", InstanceID: "m1"},
	}, m.Endpoints("geo"))
}

func TestIntegrationJob_CheckIsIdempotent(t *testing.T) {
	job := newJob("j1")

	assert.True(t, job.Check(MarkResources))
	assert.False(t, job.Check(MarkResources))
	assert.Equal(t, []Mark{MarkInstantiation, MarkCoupling, MarkInitialization}, job.missing())
	assert.False(t, job.Complete())

	for _, mark := range Marks {
		job.Check(mark)
	}
	assert.True(t, job.Complete())
}

func TestIntegrateBatch_CouplingStallsUntilChannelRegistered(t *testing.T) {
	m, _ := newManager(t)

	job, err := m.StartBatch(context.Background(), batch("m1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return job.Checked(MarkInstantiation) }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, job.Checked(MarkCoupling), "stalled on missing channel")
	_, visible := m.Runtime().Container("m1")
	assert.False(t, visible, "stalled batch is invisible")

	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))

	require.NoError(t, job.Wait(context.Background()))
	_, visible = m.Runtime().Container("m1")
	assert.True(t, visible)
}

func TestIntegrateBatch_CouplingStallTimesOut(t *testing.T) {
	m, _ := newManager(t, WithIntegrationTimeout(50*time.Millisecond))

	_, err := m.IntegrateBatch(context.Background(), batch("m1"))

	require.True(t, IsIntegrationTimeout(err))
	var ie *IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"geo"}, ie.MissingChannels)
	assert.Equal(t, []Mark{MarkCoupling, MarkInitialization}, ie.Missing)
	assert.Empty(t, m.Runtime().Containers())
}

func TestIntegrateBatch_InstantiationFailureIsLocal(t *testing.T) {
	m, factory := newManager(t)
	boom := errors.New("bad config")
	factory.Fail = map[string]error{"l1": boom}
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))
	notes, cancel := m.Runtime().Notifier().Subscribe(8)
	defer cancel()

	job, err := m.IntegrateBatch(context.Background(), batch("m1", "l1"))

	var ie *IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.False(t, ie.TimedOut)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, job.Failures(), "l1")
	assert.NotContains(t, job.Failures(), "m1", "sibling unaffected")
	assert.True(t, job.Checked(MarkResources))
	assert.False(t, job.Checked(MarkInstantiation))
	assert.False(t, job.Checked(MarkInitialization))
	assert.Empty(t, m.Runtime().Containers(), "partial batch never becomes visible")

	note := <-notes
	assert.Equal(t, ir.LevelError, note.Level)
	assert.Equal(t, "l1", note.InstanceID)
}

func TestIntegrateBatch_UnknownComponent(t *testing.T) {
	m, _ := newManager(t)
	b := Batch{Items: []BatchItem{{Item: ir.ComponentItem{ComponentID: "chart", InstanceID: "c1"}}}}

	_, err := m.IntegrateBatch(context.Background(), b)

	assert.ErrorIs(t, err, node.ErrUnknownComponent)
}

func TestStartBatch_Validation(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.StartBatch(context.Background(), Batch{})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = m.StartBatch(context.Background(), batch("m1", "m1"))
	assert.Error(t, err)
}

func TestIntegrateBatch_BatchChannelsRegistered(t *testing.T) {
	m, _ := newManager(t)
	b := batch("m1")
	b.Channels = []ChannelSpec{{Name: "geo", Operation: "onGeo"}}

	_, err := m.IntegrateBatch(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, []string{"geo"}, m.Channels())
}

func TestPublish_RoutesToOtherEndpoints(t *testing.T) {
	m, factory := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo", Operation: "onGeo"}))
	_, err := m.IntegrateBatch(context.Background(), batch("m1", "l1"))
	require.NoError(t, err)

	require.NoError(t, factory.Fake("m1").Context().Publish("geo", ir.Object{"lat": ir.Int(51)}))

	assert.Empty(t, factory.Fake("m1").Operations(), "sender does not receive its own event")
	inv := factory.Fake("l1").Invocations()
	require.Len(t, inv, 1)
	assert.Equal(t, "onGeo", inv[0].Operation)
	assert.Equal(t, ir.Int(51), inv[0].Payload["lat"])

	assert.ErrorIs(t, m.Publish(ir.ComponentItem{}, "nope", nil), ErrUnknownChannel)
}

func TestRemoveBatch_RemovesOrphanChannels(t *testing.T) {
	m, factory := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))
	_, err := m.IntegrateBatch(context.Background(), batch("m1", "l1"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.RemoveBatch(ctx, []ir.ComponentItem{{ComponentID: "map", InstanceID: "m1"}}))
	assert.Equal(t, []string{"geo"}, m.Channels(), "l1 still on the channel")
	assert.Equal(t, 1, factory.Fake("m1").Disposed())

	require.NoError(t, m.RemoveBatch(ctx, []ir.ComponentItem{{ComponentID: "list", InstanceID: "l1"}}))
	assert.Empty(t, m.Channels(), "orphan channel removed")
	assert.Empty(t, m.Runtime().Containers())

	err = m.RemoveBatch(ctx, []ir.ComponentItem{{ComponentID: "list", InstanceID: "l1"}})
	assert.ErrorIs(t, err, node.ErrUnknownInstance)
}

func TestIntegrateBatch_MigrationBatchRecovers(t *testing.T) {
	m, factory := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))
	cp := ir.Checkpoint{
		InstanceID:  "m1",
		ComponentID: "map",
		Properties:  []ir.CheckpointProperty{{Name: "zoom", Type: "int", Value: ir.Int(11)}},
	}
	b := batch("m1")
	b.States = map[string]ir.MigratedState{
		"m1": {
			Item:       ir.ComponentItem{ComponentID: "map", InstanceID: "m1"},
			Checkpoint: cp,
			Digest:     ir.MustCheckpointDigest(cp),
			Events:     []ir.BufferedEvent{{ID: "e1", Source: ir.SourceChannel, Operation: "moveTo"}},
		},
	}

	job, err := m.IntegrateBatch(context.Background(), b)
	require.NoError(t, err)

	c, ok := m.Runtime().Container("m1")
	require.True(t, ok)
	assert.Equal(t, container.StateRecovery, c.State())
	assert.Equal(t, ir.Int(11), factory.Fake("m1").Property("zoom"))
	assert.Equal(t, []string{"moveTo"}, factory.Fake("m1").Operations())
	assert.True(t, job.Reports()["m1"].OK())
	assert.Equal(t, container.KindMigration, factory.Fake("m1").Context().Kind())
}

func TestIntegrateBatch_MigrationBatchMissingState(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo"}))
	b := batch("m1")
	b.States = map[string]ir.MigratedState{}

	_, err := m.IntegrateBatch(context.Background(), b)

	var ie *IntegrationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []Mark{MarkInitialization}, ie.Missing)
}

func TestDetachEndpoints_StopsDelivery(t *testing.T) {
	m, factory := newManager(t)
	require.NoError(t, m.RegisterChannel(ChannelSpec{Name: "geo", Operation: "onGeo"}))
	_, err := m.IntegrateBatch(context.Background(), batch("m1", "l1"))
	require.NoError(t, err)

	orphans := m.DetachEndpoints([]ir.ComponentItem{{ComponentID: "map", InstanceID: "m1"}})
	assert.Empty(t, orphans, "l1 still on geo")

	require.NoError(t, factory.Fake("l1").Context().Publish("geo", ir.Object{"lat": ir.Int(51)}))
	assert.Empty(t, factory.Fake("m1").Operations(), "detached container receives nothing")

	orphans = m.DetachEndpoints([]ir.ComponentItem{{ComponentID: "list", InstanceID: "l1"}})
	assert.Equal(t, []string{"geo"}, orphans)
	assert.ErrorIs(t, m.Publish(ir.ComponentItem{}, "geo", nil), ErrUnknownChannel)
	assert.Len(t, m.Runtime().Containers(), 2, "containers stay until removed")
}
