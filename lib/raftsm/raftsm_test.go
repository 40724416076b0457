package raftsm

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher/memdispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/snapshot"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/raftio"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/require"
)

// fakeNodeHost commits every proposal immediately on a single replica
type fakeNodeHost struct {
	mu      sync.Mutex
	fsm     *ContainerSM
	store   *memdispatcher.Dispatcher
	index   uint64
	busy    int
	stopped []uint64
}

func (f *fakeNodeHost) SyncPropose(_ context.Context, _ *client.Session, cmd []byte) (sm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy > 0 {
		f.busy--
		return sm.Result{}, dragonboat.ErrSystemBusy
	}
	f.index++
	out, err := f.fsm.Update([]sm.Entry{{Index: f.index, Cmd: cmd}})
	if err != nil {
		return sm.Result{}, err
	}
	return out[0].Result, nil
}

func (f *fakeNodeHost) SyncRead(_ context.Context, _ uint64, query interface{}) (interface{}, error) {
	return f.fsm.Lookup(query)
}

func (f *fakeNodeHost) GetNoOPSession(uint64) *client.Session {
	return nil
}

func (f *fakeNodeHost) StopReplica(shardID uint64, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, shardID)
	return nil
}

func (f *fakeNodeHost) stoppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

func newTestCluster(t *testing.T, interceptor memdispatcher.Interceptor) (*fakeNodeHost, *Registry, *ContainerClient) {
	t.Helper()
	return newTestClusterIn(t, t.TempDir(), interceptor)
}

// newTestClusterIn starts a replica that keeps its snapshots in dir
func newTestClusterIn(t *testing.T, dir string, interceptor memdispatcher.Interceptor) (*fakeNodeHost, *Registry, *ContainerClient) {
	t.Helper()
	d := memdispatcher.New("vol", interceptor)
	newCSM := func(shardID, replicaID uint64, closer csm.GroupCloser) (*csm.ContainerStateMachine, error) {
		cfg := csm.DefaultConfig()
		cfg.SnapshotDir = dir
		return csm.New(fmt.Sprintf("group-%d", shardID), cfg, d, d, closer)
	}

	nh := &fakeNodeHost{store: d}
	registry := NewRegistry()
	factory := CreateStateMachineFactory(newCSM, nh, registry)
	nh.fsm = factory(1, 1).(*ContainerSM)
	t.Cleanup(func() { _ = nh.fsm.Close() })

	return nh, registry, NewContainerClient(nh, 1, 100*time.Millisecond)
}

func TestClientRoundTrip(t *testing.T) {
	_, _, c := newTestCluster(t, nil)
	block := command.BlockID{ContainerID: 1, LocalID: 9}
	chunk := command.ChunkInfo{Name: "chunk-0"}
	data := []byte("some block data")

	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.WriteChunk(block, chunk, data))
	chunk.Len = uint64(len(data))
	require.NoError(t, c.PutBlock(block, []command.ChunkInfo{chunk}))

	read, err := c.ReadChunk(block, chunk)
	require.NoError(t, err)
	require.Equal(t, data, read)

	chunks, err := c.GetBlock(block)
	require.NoError(t, err)
	require.Equal(t, []command.ChunkInfo{chunk}, chunks)

	commitMap, err := c.CommitMap()
	require.NoError(t, err)
	require.Equal(t, map[uint64]uint64{1: 3}, commitMap)

	stats, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, csm.Healthy, stats.Health)
	require.Equal(t, uint64(3), stats.LastApplied.Index)

	_, err = c.GetBlock(command.BlockID{ContainerID: 1, LocalID: 10})
	require.Equal(t, csm.RetCRecoverable, csm.CodeOf(err))
}

func TestClientValidatesBeforeProposing(t *testing.T) {
	nh, _, c := newTestCluster(t, nil)
	err := c.WriteChunk(command.BlockID{ContainerID: 1, LocalID: 1}, command.ChunkInfo{Name: "c"}, nil)
	require.Equal(t, csm.RetCValidation, csm.CodeOf(err))
	require.Equal(t, csm.RetCValidation, csm.CodeOf(c.CreateContainer(0)))
	require.Equal(t, uint64(0), nh.index)
}

func TestClientRetriesWhenBusy(t *testing.T) {
	nh, _, c := newTestCluster(t, nil)
	nh.busy = 2
	require.NoError(t, c.CreateContainer(1))
	require.Equal(t, uint64(1), nh.index)

	nh.busy = retries
	require.Error(t, c.CreateContainer(2))
}

func TestRecoverableResult(t *testing.T) {
	_, registry, c := newTestCluster(t, nil)
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.CloseContainer(1, "full"))

	err := c.WriteChunk(command.BlockID{ContainerID: 1, LocalID: 1}, command.ChunkInfo{Name: "c"}, []byte("late"))
	require.Equal(t, csm.RetCRecoverable, csm.CodeOf(err))

	machine, ok := registry.Get(1)
	require.True(t, ok)
	require.True(t, machine.IsHealthy())
}

func TestFatalResultStopsReplica(t *testing.T) {
	nh, registry, c := newTestCluster(t, func(cmd *command.Command, dc dispatcher.DispatchContext) *dispatcher.Result {
		if cmd.ContainerID == 99 {
			res := dispatcher.Failure(dispatcher.StatusIOException, "broken disk")
			return &res
		}
		return nil
	})
	require.NoError(t, c.CreateContainer(1))

	err := c.CreateContainer(99)
	require.Equal(t, csm.RetCUnrecoverable, csm.CodeOf(err))
	require.Eventually(t, func() bool { return nh.stoppedCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, map[uint64]csm.HealthState{1: csm.Unhealthy}, registry.Health())

	// the containers of the group are closed before the replica is stopped
	state, ok := nh.store.State(1)
	require.True(t, ok)
	require.Equal(t, memdispatcher.StateClosing, state)

	// an unhealthy replica does not hand out snapshots
	_, err = nh.fsm.PrepareSnapshot()
	require.ErrorIs(t, err, csm.ErrUnhealthy)
	require.Error(t, nh.fsm.SaveSnapshot(nil, &bytes.Buffer{}, nil, nil))
}

func TestUpdateRejectsInvalidEntries(t *testing.T) {
	nh, _, _ := newTestCluster(t, nil)
	out, err := nh.fsm.Update([]sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2, 3}},
		{Index: 3, Cmd: (&command.Command{Type: command.CommandTCreateContainer, ContainerID: 5}).Serialize()},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(csm.RetCValidation), out[0].Result.Value)
	require.Equal(t, uint64(csm.RetCValidation), out[1].Result.Value)
	require.Equal(t, uint64(csm.RetCSuccess), out[2].Result.Value)

	_, err = nh.fsm.Lookup("not a query")
	require.Error(t, err)
}

func TestLeaderUpdates(t *testing.T) {
	_, registry, c := newTestCluster(t, nil)
	machine, _ := registry.Get(1)

	registry.LeaderUpdated(raftio.LeaderInfo{ShardID: 1, ReplicaID: 1, LeaderID: 1, Term: 3})
	require.True(t, machine.IsLeader())
	require.Equal(t, uint64(3), machine.Term())

	// entries carry their payload, nothing is cached for them
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.WriteChunk(command.BlockID{ContainerID: 1, LocalID: 1}, command.ChunkInfo{Name: "c"}, []byte("x")))
	require.Equal(t, 0, machine.Stats().CacheEntries)

	// applied entries take the term of the last leader event
	require.Equal(t, command.TermIndex{Term: 3, Index: 2}, machine.LastApplied())

	registry.LeaderUpdated(raftio.LeaderInfo{ShardID: 1, ReplicaID: 1, LeaderID: 2, Term: 4})
	require.False(t, machine.IsLeader())
	require.Equal(t, uint64(4), machine.Term())

	registry.LeaderUpdated(raftio.LeaderInfo{ShardID: 42, ReplicaID: 1, LeaderID: 1, Term: 1})
}

func TestSnapshotTransfer(t *testing.T) {
	nh, _, c := newTestCluster(t, nil)
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.CreateContainer(2))

	var buf bytes.Buffer
	ctx, err := nh.fsm.PrepareSnapshot()
	require.NoError(t, err)
	require.NoError(t, nh.fsm.SaveSnapshot(ctx, &buf, nil, nil))

	other, _, _ := newTestCluster(t, nil)
	require.NoError(t, other.fsm.RecoverFromSnapshot(&buf, nil, nil))
	require.Equal(t, nh.fsm.StateMachine().CommitMap(), other.fsm.StateMachine().CommitMap())
	require.Equal(t, uint64(2), other.fsm.StateMachine().LastApplied().Index)
}

func TestSnapshotIsTakenAtPrepare(t *testing.T) {
	nh, _, c := newTestCluster(t, nil)
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.CreateContainer(2))

	ctx, err := nh.fsm.PrepareSnapshot()
	require.NoError(t, err)

	// applied between prepare and save, not part of the snapshot
	create3 := (&command.Command{Type: command.CommandTCreateContainer, ContainerID: 3}).Serialize()
	require.NoError(t, c.CreateContainer(3))

	var buf bytes.Buffer
	require.NoError(t, nh.fsm.SaveSnapshot(ctx, &buf, nil, nil))

	other, registry, _ := newTestCluster(t, nil)
	require.NoError(t, other.fsm.RecoverFromSnapshot(&buf, nil, nil))
	require.Equal(t, uint64(2), other.fsm.StateMachine().LastApplied().Index)

	// dragonboat replays everything after the snapshot index
	out, err := other.fsm.Update([]sm.Entry{{Index: 3, Cmd: create3}})
	require.NoError(t, err)
	require.Equal(t, uint64(csm.RetCSuccess), out[0].Result.Value)
	require.Equal(t, uint64(3), other.fsm.StateMachine().LastApplied().Index)
	require.Equal(t, map[uint64]csm.HealthState{1: csm.Healthy}, registry.Health())
}

func TestSnapshotsArePersisted(t *testing.T) {
	dir := t.TempDir()
	nh, _, c := newTestClusterIn(t, dir, nil)
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.CreateContainer(2))

	var buf bytes.Buffer
	ctx, err := nh.fsm.PrepareSnapshot()
	require.NoError(t, err)
	require.NoError(t, nh.fsm.SaveSnapshot(ctx, &buf, nil, nil))

	info, ok, err := snapshot.Latest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), info.Index)

	// a snapshot received from the leader is stored before it is installed
	otherDir := t.TempDir()
	other, _, _ := newTestClusterIn(t, otherDir, nil)
	require.NoError(t, other.fsm.RecoverFromSnapshot(&buf, nil, nil))
	info, ok, err = snapshot.Latest(otherDir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), info.Index)
	require.Equal(t, nh.fsm.StateMachine().CommitMap(), other.fsm.StateMachine().CommitMap())
}

func TestRestartResumesFromLocalSnapshot(t *testing.T) {
	dir := t.TempDir()
	nh, registry, c := newTestClusterIn(t, dir, nil)
	registry.LeaderUpdated(raftio.LeaderInfo{ShardID: 1, ReplicaID: 1, LeaderID: 2, Term: 2})
	require.NoError(t, c.CreateContainer(1))
	require.NoError(t, c.CreateContainer(2))
	ctx, err := nh.fsm.PrepareSnapshot()
	require.NoError(t, err)
	require.NoError(t, nh.fsm.SaveSnapshot(ctx, &bytes.Buffer{}, nil, nil))
	info, _, err := snapshot.Latest(dir)
	require.NoError(t, err)

	restarted, _, _ := newTestClusterIn(t, dir, nil)
	machine := restarted.fsm.StateMachine()
	require.Equal(t, nh.fsm.StateMachine().CommitMap(), machine.CommitMap())
	require.Equal(t, uint64(2), machine.LastApplied().Index)

	// entries already in the snapshot are acknowledged without being applied again
	entries := make([]sm.Entry, 0, 3)
	for i := uint64(1); i <= 3; i++ {
		cmd := &command.Command{Type: command.CommandTCreateContainer, ContainerID: i}
		entries = append(entries, sm.Entry{Index: i, Cmd: cmd.Serialize()})
	}
	out, err := restarted.fsm.Update(entries)
	require.NoError(t, err)
	for _, e := range out {
		require.Equal(t, uint64(csm.RetCSuccess), e.Result.Value, "entry %d", e.Index)
	}
	require.Equal(t, uint64(3), machine.LastApplied().Index)
	require.True(t, machine.IsHealthy())
	// no leader event yet, the term of the snapshot carries on
	require.Equal(t, uint64(2), info.Term)
	require.Equal(t, uint64(2), machine.LastApplied().Term)

	_, ok := restarted.store.State(1)
	require.False(t, ok)
	_, ok = restarted.store.State(3)
	require.True(t, ok)
}

func TestRegistry(t *testing.T) {
	nh, registry, c := newTestCluster(t, nil)
	require.NoError(t, c.CreateContainer(1))
	require.Equal(t, []uint64{1}, registry.Shards())

	var buf bytes.Buffer
	registry.WritePrometheus(&buf)
	require.Contains(t, buf.String(), `group="group-1"`)

	require.NoError(t, nh.fsm.Close())
	_, ok := registry.Get(1)
	require.False(t, ok)
	require.Empty(t, registry.Shards())
}
