package csm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/util"
)

// Apply applies a committed entry. Entries of the same container run one after another
// in index order, different containers run in parallel on the apply workers.
//
// The caller blocks until a backpressure permit is free. A WriteChunk entry first waits for
// the payload write of the same index. The returned future fails with *Error when the
// dispatcher reports a fatal status, recoverable statuses complete it with the failed result.
func (s *ContainerStateMachine) Apply(ctx context.Context, entry command.LogEntry, tc *TransactionContext) (*util.Future[dispatcher.Result], error) {
	if err := s.enter(); err != nil {
		return nil, err
	}

	cmd, err := s.applyCommand(entry, tc)
	if err != nil {
		s.leave()
		return nil, err
	}
	if err := s.permits.Acquire(ctx, 1); err != nil {
		s.leave()
		return nil, fmt.Errorf("waiting for apply permit: %w", err)
	}
	if err := s.applied.issue(entry.Index); err != nil {
		s.permits.Release(1)
		s.leave()
		return nil, s.violation("%v", err)
	}

	start := time.Now()
	future := util.NewFuture[dispatcher.Result]()
	future.OnComplete(func(_ dispatcher.Result, _ error) {
		s.applied.complete(command.TermIndex{Term: entry.Term, Index: entry.Index})
		s.metrics.applyLatency.UpdateSince(start)
		s.permits.Release(1)
		s.leave()
	})

	s.applyQueues.Submit(cmd.ContainerID, func() {
		future.Complete(s.applyEntry(entry, cmd))
	})
	return future, nil
}

// applyCommand returns the command of an entry, the leader context wins over the log data
func (s *ContainerStateMachine) applyCommand(entry command.LogEntry, tc *TransactionContext) (*command.Command, error) {
	if tc != nil && tc.Request != nil {
		return tc.Request, nil
	}
	cmd, err := command.Decode(entry.Data)
	if err != nil {
		return nil, s.violation("undecodable log entry %s: %v", entry, err)
	}
	return cmd, nil
}

// applyEntry runs on the queue of the container of cmd
func (s *ContainerStateMachine) applyEntry(entry command.LogEntry, cmd *command.Command) (dispatcher.Result, error) {
	dc := dispatcher.DispatchContext{Term: entry.Term, Index: entry.Index, Stage: dispatcher.StageCombined}

	if cmd.Type == command.CommandTWriteChunk {
		dc.Stage = dispatcher.StageCommitData
		// the commit must not overtake the payload write of the same index
		if pending, ok := s.pendingWrites.Load(entry.Index); ok {
			if res, err := pending.Get(); err != nil {
				return res, NewError(CodeOf(err), "payload write at %s failed: %v", entry, err)
			}
		}
	}

	res := s.dispatch(context.Background(), cmd, dc)
	switch {
	case res.IsSuccess():
		s.metrics.appliedSuccess.Inc()
		s.recordCommit(cmd, entry.Index)
		return res, nil
	case s.isRecoverable(res.Status):
		s.metrics.appliedRecoverable.Inc()
		log.Infof("[%s] apply %s at %s: %s", s.name, cmd.Type, entry, res)
		return res, nil
	default:
		s.metrics.appliedFatal.Inc()
		reason := fmt.Sprintf("apply %s at %s failed: %s", cmd, entry, res)
		s.markUnhealthy(reason)
		return res, NewError(RetCUnrecoverable, "%s", reason)
	}
}

// recordCommit updates the block commit sequence id of the container of cmd
func (s *ContainerStateMachine) recordCommit(cmd *command.Command, index uint64) {
	switch cmd.Type {
	case command.CommandTCreateContainer:
		s.commitMap.LoadOrStore(cmd.ContainerID, 0)
	case command.CommandTWriteChunk, command.CommandTPutBlock:
		s.commitMap.Compute(cmd.ContainerID, func(old uint64, _ bool) (uint64, bool) {
			if index > old {
				return index, false
			}
			return old, false
		})
	}
}

// CommitMap returns a copy of the containerID -> BCSID map.
func (s *ContainerStateMachine) CommitMap() map[uint64]uint64 {
	out := make(map[uint64]uint64, s.commitMap.Size())
	s.commitMap.Range(func(id, bcsid uint64) bool {
		out[id] = bcsid
		return true
	})
	return out
}

// LastApplied returns the highest position up to which every issued entry was applied.
func (s *ContainerStateMachine) LastApplied() command.TermIndex {
	return s.applied.lastApplied()
}

// --------------------------------------------------------------------------
// Applied index tracking
// --------------------------------------------------------------------------

// appliedTracker computes the last applied position while entries of different containers
// complete out of order. Indices may have gaps (entries that never reach the state machine).
type appliedTracker struct {
	mu         sync.Mutex
	lastIssued uint64
	last       command.TermIndex
	issued     []uint64          // issued but not yet applied, ascending
	done       map[uint64]uint64 // completed out of order, index -> term
}

func newAppliedTracker() *appliedTracker {
	return &appliedTracker{done: make(map[uint64]uint64)}
}

// issue registers an index, indices must be strictly ascending
func (t *appliedTracker) issue(index uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index <= t.lastIssued {
		return fmt.Errorf("entry %d applied out of order, last issued index is %d", index, t.lastIssued)
	}
	t.lastIssued = index
	t.issued = append(t.issued, index)
	return nil
}

func (t *appliedTracker) complete(ti command.TermIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ti.Index <= t.last.Index {
		return
	}
	t.done[ti.Index] = ti.Term
	for len(t.issued) > 0 {
		term, ok := t.done[t.issued[0]]
		if !ok {
			return
		}
		delete(t.done, t.issued[0])
		t.last = command.TermIndex{Term: term, Index: t.issued[0]}
		t.issued = t.issued[1:]
	}
}

func (t *appliedTracker) lastApplied() command.TermIndex {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// reset moves the tracker to a snapshot position
func (t *appliedTracker) reset(ti command.TermIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = ti
	t.lastIssued = ti.Index
	t.issued = nil
	t.done = make(map[uint64]uint64)
}
