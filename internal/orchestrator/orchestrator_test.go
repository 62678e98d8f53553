package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/container/containertest"
	"github.com/TomKopp/KP-WME-sub000/internal/distribution"
	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/manager"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
	"github.com/TomKopp/KP-WME-sub000/internal/testutil"
)

var m1 = ir.ComponentItem{ComponentID: "map", InstanceID: "m1"}

type runtime struct {
	peer    *LocalPeer
	rt      *node.RuntimeContext
	mgr     *manager.Manager
	factory *containertest.Factory
}

func newRuntime(t *testing.T, id string, descs ...ir.Descriptor) runtime {
	t.Helper()
	rt := node.New(id)
	for _, d := range descs {
		require.NoError(t, rt.RegisterDescriptor(d))
	}
	factory := containertest.NewFactory()
	mgr := manager.New(rt, factory,
		manager.WithIntegrationTimeout(2*time.Second),
		manager.WithContainerOptions(
			container.WithInitTimeout(time.Second),
			container.WithPrepareTimeout(time.Second),
		),
	)
	require.NoError(t, mgr.RegisterChannel(manager.ChannelSpec{Name: "geo", Operation: "moveTo"}))
	eng := engine.New(distribution.New(mgr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return runtime{peer: NewLocalPeer(id, eng), rt: rt, mgr: mgr, factory: factory}
}

func mapDescriptor() ir.Descriptor {
	return ir.Descriptor{
		ComponentID: "map",
		Migratable:  true,
		Channels:    []string{"geo"},
		Properties:  []ir.PropertyDecl{{Name: "zoom", Type: "int", Default: ir.Int(3)}},
	}
}

func moveM1() ir.Migration {
	return ir.Migration{
		ID: "mig-1",
		Modifications: []ir.DistributionModification{
			{ID: "mod-1", TargetRuntimeID: "d2", Type: ir.ModAdd, Components: []ir.ComponentItem{m1}},
		},
	}
}

func setup(t *testing.T, targetDescs ...ir.Descriptor) (runtime, runtime, *Orchestrator) {
	t.Helper()
	src := newRuntime(t, "d1", mapDescriptor())
	_, err := src.mgr.IntegrateBatch(context.Background(), manager.Batch{Items: []manager.BatchItem{{Item: m1}}})
	require.NoError(t, err)
	dst := newRuntime(t, "d2", targetDescs...)
	return src, dst, New(WithIDGenerator(testutil.NewSequenceGenerator("tx")))
}

func actions(rep Report) []string {
	var out []string
	for _, s := range rep.Steps {
		out = append(out, s.Runtime+":"+s.Action+":"+s.Code.String())
	}
	return out
}

func TestMigrate_Commits(t *testing.T) {
	src, dst, o := setup(t, mapDescriptor())
	require.NoError(t, src.factory.Fake("m1").SetProperty("zoom", ir.Int(12)))

	rep, err := o.Migrate(context.Background(), moveM1(), src.peer, dst.peer)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, rep.Outcome)
	assert.Equal(t, "tx-1", rep.TransactionID)
	assert.Equal(t, []string{
		"d1:prepare:ALL_COMPONENTS_READY",
		"d2:prepare:ALL_COMPONENTS_EXECUTABLE",
		"d1:commit:COMMITTED",
		"d2:commit:COMMITTED",
	}, actions(rep))

	assert.Empty(t, src.rt.Containers())
	c, ok := dst.rt.Container("m1")
	require.True(t, ok)
	assert.Equal(t, container.StateActive, c.State())
	assert.Equal(t, ir.Int(12), dst.factory.Fake("m1").Property("zoom"))
}

func TestMigrate_TargetCannotHostCancelsSource(t *testing.T) {
	src, dst, o := setup(t)

	rep, err := o.Migrate(context.Background(), moveM1(), src.peer, dst.peer)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, rep.Outcome)
	assert.Equal(t, map[string]bool{"map": false}, rep.ExecMap)
	assert.Equal(t, []string{
		"d1:prepare:ALL_COMPONENTS_READY",
		"d2:prepare:NO_COMPONENT_EXECUTABLE",
		"d2:cancel:CANCELLED",
		"d1:cancel:CANCELLED",
	}, actions(rep))

	c, ok := src.rt.Container("m1")
	require.True(t, ok, "source keeps its component")
	assert.Equal(t, container.StateActive, c.State())
	assert.Empty(t, dst.rt.Containers())
}

func TestMigrate_SourceNotReady(t *testing.T) {
	src, dst, o := setup(t, mapDescriptor())
	src.factory.Migratable("m1").SetReply(containertest.ReplyNotReady)

	rep, err := o.Migrate(context.Background(), moveM1(), src.peer, dst.peer)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, rep.Outcome)
	assert.Equal(t, []string{
		"d1:prepare:NOTALL_COMPONENTS_READY",
		"d1:cancel:CANCELLED",
	}, actions(rep))
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, m1, rep.Failed[0].Item)
	_, asked := dst.rt.History().Get("tx-1")
	assert.False(t, asked, "target never contacted")
}

func TestMigrate_CancelledByUserDuringPrepare(t *testing.T) {
	src, dst, o := setup(t, mapDescriptor())
	src.factory.Migratable("m1").SetReply(containertest.ReplySilent)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep, err := o.Migrate(ctx, moveM1(), src.peer, dst.peer)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, rep.Outcome)
	require.Len(t, rep.Steps, 2)
	assert.Equal(t, "cancel", rep.Steps[1].Action)
	assert.Equal(t, ir.MigrationCancelledByUser, rep.Steps[1].Code)

	c, ok := src.rt.Container("m1")
	require.True(t, ok)
	assert.Equal(t, container.StateActive, c.State())
}

func TestMigrate_InvalidMigration(t *testing.T) {
	src, dst, o := setup(t, mapDescriptor())

	_, err := o.Migrate(context.Background(), ir.Migration{}, src.peer, dst.peer)

	assert.ErrorIs(t, err, ir.ErrInvalidMigration)
}

// failingPeer fails every request at the transport level.
type failingPeer struct{ id string }

var errUnreachable = errors.New("unreachable")

func (p failingPeer) ID() string { return p.id }
func (p failingPeer) Prepare(context.Context, ir.PrepareRequest) (ir.PrepareResponse, error) {
	return ir.PrepareResponse{}, errUnreachable
}
func (p failingPeer) Commit(context.Context, ir.CommitRequest) (ir.CommitResponse, error) {
	return ir.CommitResponse{}, errUnreachable
}
func (p failingPeer) Cancel(context.Context, ir.CancelRequest) (ir.CancelResponse, error) {
	return ir.CancelResponse{}, errUnreachable
}

func TestMigrate_UnreachableTarget(t *testing.T) {
	src, _, o := setup(t, mapDescriptor())

	rep, err := o.Migrate(context.Background(), moveM1(), src.peer, failingPeer{id: "d2"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, rep.Outcome, "target cancel could not be delivered")
	require.Len(t, rep.Steps, 4)
	assert.Equal(t, "unreachable", rep.Steps[1].Error)
	assert.Equal(t, ir.Cancelled, rep.Steps[3].Code)

	c, ok := src.rt.Container("m1")
	require.True(t, ok)
	assert.Equal(t, container.StateActive, c.State(), "source reverted")
}
