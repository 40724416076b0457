package raftsm

import (
	"io"
	"sort"

	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/lni/dragonboat/v4/raftio"
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry tracks the state machines running on a node by replication group. It is the
// dragonboat raft event listener of the node and forwards leader changes to the groups.
type Registry struct {
	machines *xsync.MapOf[uint64, *ContainerSM]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{machines: xsync.NewMapOf[uint64, *ContainerSM]()}
}

func (r *Registry) register(fsm *ContainerSM) {
	r.machines.Store(fsm.shardID, fsm)
}

// unregister removes fsm, a newer state machine of the same group is kept
func (r *Registry) unregister(fsm *ContainerSM) {
	r.machines.Compute(fsm.shardID, func(old *ContainerSM, loaded bool) (*ContainerSM, bool) {
		return old, !loaded || old == fsm
	})
}

// Get returns the state machine of a replication group.
func (r *Registry) Get(shardID uint64) (*csm.ContainerStateMachine, bool) {
	fsm, ok := r.machines.Load(shardID)
	if !ok {
		return nil, false
	}
	return fsm.csm, true
}

// Shards returns the ids of all registered replication groups in ascending order.
func (r *Registry) Shards() []uint64 {
	var ids []uint64
	r.machines.Range(func(id uint64, _ *ContainerSM) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LeaderUpdated implements raftio.IRaftEventListener.
func (r *Registry) LeaderUpdated(info raftio.LeaderInfo) {
	fsm, ok := r.machines.Load(info.ShardID)
	if !ok {
		log.Debugf("leader update for unknown group %d", info.ShardID)
		return
	}
	fsm.csm.NotifyLeaderChange(info.LeaderID == info.ReplicaID, info.Term)
}

// Health returns the health of every registered group.
func (r *Registry) Health() map[uint64]csm.HealthState {
	out := make(map[uint64]csm.HealthState)
	r.machines.Range(func(id uint64, fsm *ContainerSM) bool {
		out[id] = fsm.csm.Health()
		return true
	})
	return out
}

// WritePrometheus writes the metrics of all registered groups.
func (r *Registry) WritePrometheus(w io.Writer) {
	for _, id := range r.Shards() {
		if fsm, ok := r.machines.Load(id); ok {
			fsm.csm.WritePrometheus(w)
		}
	}
}
