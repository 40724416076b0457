package raftsm

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/snapshot"
	"github.com/acceldata-io/ozone-sub000/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var log = logger.GetLogger("raftsm")

// ReplicaStopper stops a replica of a replication group, *dragonboat.NodeHost implements it.
type ReplicaStopper interface {
	StopReplica(shardID uint64, replicaID uint64) error
}

// CSMFactory creates the container state machine of a replica. closer must be passed
// to csm.New so an unhealthy replica stops itself.
type CSMFactory func(shardID, replicaID uint64, closer csm.GroupCloser) (*csm.ContainerStateMachine, error)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// ContainerSM binds a ContainerStateMachine to dragonboat's IConcurrentStateMachine.
//
// Dragonboat has no side channel for payloads, proposals carry the full command. Update
// splits every WriteChunk into the stripped log entry and its payload, pushes the payloads
// through the write pipeline first and then applies the batch in log order.
type ContainerSM struct {
	shardID   uint64
	replicaID uint64
	csm       *csm.ContainerStateMachine
	registry  *Registry

	// resumeIndex is the index the commit map was restored to from a local snapshot at
	// startup. Entries up to it are already reflected and are not applied again.
	resumeIndex uint64
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create
// the state machine of a replica. The newest local snapshot is loaded on creation.
// Unhealthy replicas close their containers and are stopped through stopper.
func CreateStateMachineFactory(newCSM CSMFactory, stopper ReplicaStopper, registry *Registry) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		var machine *csm.ContainerStateMachine
		closer := csm.GroupCloserFunc(func(reason string) {
			log.Errorf("stopping replica %d of group %d: %s", replicaID, shardID, reason)
			// teardown must not run on the goroutine that applies entries
			go func() {
				machine.NotifyGroupRemove(reason)
				if err := stopper.StopReplica(shardID, replicaID); err != nil {
					log.Errorf("failed to stop replica %d of group %d: %v", replicaID, shardID, err)
				}
			}()
		})

		machine, err := newCSM(shardID, replicaID, closer)
		if err != nil {
			log.Panicf("failed to create state machine for group %d: %v", shardID, err)
		}
		fsm := &ContainerSM{shardID: shardID, replicaID: replicaID, csm: machine, registry: registry}

		index, ok, err := machine.LoadLatestSnapshot()
		if err != nil {
			log.Panicf("failed to load the local snapshot of group %d: %v", shardID, err)
		}
		if ok {
			fsm.resumeIndex = index
			log.Infof("[%d] resuming from local snapshot at index %d", shardID, index)
		}

		if registry != nil {
			registry.register(fsm)
		}
		return fsm
	}
}

// StateMachine returns the wrapped container state machine.
func (fsm *ContainerSM) StateMachine() *csm.ContainerStateMachine {
	return fsm.csm
}

// Update applies a batch of committed entries.
func (fsm *ContainerSM) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	start := time.Now()
	// dragonboat entries carry no term, the term of the last leader event is used instead.
	// It never drops below the applied term, which a restored snapshot may have raised.
	term := fsm.csm.Term()
	if applied := fsm.csm.LastApplied().Term; applied > term {
		term = applied
	}

	logEntries := make([]command.LogEntry, len(entries))
	skip := make([]bool, len(entries))
	for i, e := range entries {
		if e.Index <= fsm.resumeIndex {
			entries[i].Result = sm.Result{Value: uint64(csm.RetCSuccess)}
			skip[i] = true
			continue
		}
		le, err := splitEntry(e, term)
		if err != nil {
			entries[i].Result = errorResult(csm.NewError(csm.RetCValidation, "invalid entry %d: %v", e.Index, err))
			skip[i] = true
			continue
		}
		logEntries[i] = le
	}

	// payload writes go first, Apply of the same index waits for them
	for i := range entries {
		if !skip[i] && len(logEntries[i].Payload) > 0 {
			fsm.csm.Write(logEntries[i], nil)
		}
	}

	futures := make([]*util.Future[dispatcher.Result], len(entries))
	for i := range entries {
		if skip[i] {
			continue
		}
		f, err := fsm.csm.Apply(context.Background(), logEntries[i], nil)
		if err != nil {
			entries[i].Result = errorResult(err)
			continue
		}
		futures[i] = f
	}

	last := uint64(0)
	for i, f := range futures {
		if f == nil {
			continue
		}
		res, err := f.Get()
		if err != nil {
			entries[i].Result = errorResult(err)
		} else {
			entries[i].Result = resultOf(res)
		}
		last = entries[i].Index
	}

	// entries reach the state machine once a majority stored them
	if last > 0 && fsm.csm.IsLeader() {
		fsm.csm.NotifyFollowerProgress(last, nil)
	}

	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		log.Infof("[%d] update of %d entries took %.2fms", fsm.shardID, len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// splitEntry turns a dragonboat entry into a log entry with the payload split off
func splitEntry(e sm.Entry, term uint64) (command.LogEntry, error) {
	if len(e.Cmd) == 0 {
		return command.LogEntry{}, fmt.Errorf("empty command")
	}
	cmd, err := command.Decode(e.Cmd)
	if err != nil {
		return command.LogEntry{}, err
	}
	le := command.LogEntry{Term: term, Index: e.Index, Data: e.Cmd}
	if cmd.Type == command.CommandTWriteChunk && len(cmd.Data) > 0 {
		le.Payload = cmd.Data
		le.Data = cmd.Stripped().Serialize()
	}
	return le, nil
}

// resultOf encodes a dispatcher result. Value is csm.RetCSuccess or csm.RetCRecoverable,
// Data the payload on success and the status otherwise.
func resultOf(res dispatcher.Result) sm.Result {
	if res.IsSuccess() {
		return sm.Result{Value: uint64(csm.RetCSuccess), Data: res.Payload}
	}
	return sm.Result{Value: uint64(csm.RetCRecoverable), Data: []byte(res.String())}
}

func errorResult(err error) sm.Result {
	return sm.Result{Value: uint64(csm.CodeOf(err)), Data: []byte(err.Error())}
}

// Lookup answers a command.Query through csm.QueryReadOnly.
func (fsm *ContainerSM) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(command.Query)
	if !ok {
		if p, isPtr := itf.(*command.Query); isPtr && p != nil {
			q = *p
		} else {
			return nil, csm.NewError(csm.RetCInternal, "invalid query type: %T", itf)
		}
	}
	return fsm.csm.QueryReadOnly(context.Background(), q)
}

// PrepareSnapshot captures the commit map and the applied position. Dragonboat calls it
// while no Update is running, so both match the index dragonboat records for the snapshot.
func (fsm *ContainerSM) PrepareSnapshot() (interface{}, error) {
	return fsm.csm.CaptureSnapshot()
}

// SaveSnapshot stores the captured snapshot locally and streams it to the writer.
func (fsm *ContainerSM) SaveSnapshot(ctx interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	snap, ok := ctx.(snapshot.Snapshot)
	if !ok {
		return csm.NewError(csm.RetCInternal, "invalid snapshot context: %T", ctx)
	}
	if _, err := fsm.csm.PersistSnapshot(snap); err != nil {
		log.Warningf("[%d] failed to store snapshot at index %d locally: %v", fsm.shardID, snap.Index, err)
	}
	if err := snapshot.Encode(w, snap); err != nil {
		return err
	}
	log.Infof("[%d] saved snapshot at index %d", fsm.shardID, snap.Index)
	return nil
}

// RecoverFromSnapshot installs the streamed snapshot on the install worker.
func (fsm *ContainerSM) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	index, err := fsm.csm.ReceiveSnapshot(r)
	if err != nil {
		return err
	}
	fsm.resumeIndex = index
	log.Infof("[%d] recovered from snapshot at index %d", fsm.shardID, index)
	return nil
}

// Close closes the container state machine and removes it from the registry.
func (fsm *ContainerSM) Close() error {
	if fsm.registry != nil {
		fsm.registry.unregister(fsm)
	}
	return fsm.csm.Close(context.Background())
}
