package csm

import (
	"context"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/util"
)

// writeTask is one payload write queued on a write worker
type writeTask struct {
	entry  command.LogEntry
	cmd    *command.Command
	future *util.Future[dispatcher.Result]
	queued time.Time
}

// Write pushes the payload of an appended WriteChunk entry into storage before the entry
// is committed. The payload comes from the leader context, or from the entry itself on a
// follower. On the leader the payload is also cached for replication catch-up, unless the
// entry carries the payload itself.
//
// Writes of the same block run in submission order on the same worker. A fatal dispatcher
// status marks the replica unhealthy and fails the returned future, a recoverable status
// completes it with the failed result.
func (s *ContainerStateMachine) Write(entry command.LogEntry, tc *TransactionContext) *util.Future[dispatcher.Result] {
	if err := s.enter(); err != nil {
		return util.CompletedFuture(dispatcher.Result{}, err)
	}

	cmd, err := s.writeCommand(entry, tc)
	if err != nil {
		s.leave()
		return util.CompletedFuture(dispatcher.Result{}, err)
	}

	future, loaded := s.pendingWrites.LoadOrCompute(entry.Index, func() *util.Future[dispatcher.Result] {
		return util.NewFuture[dispatcher.Result]()
	})
	if loaded {
		// the write of this index is already in progress
		s.leave()
		return future
	}

	// an entry that carries its payload serves catch-up reads itself
	if s.isLeader.Load() && len(entry.Payload) == 0 {
		if evicted := s.cache.Put(entry.Index, cmd.Data); len(evicted) > 0 {
			log.Debugf("[%s] cache full, evicted %d payloads", s.name, len(evicted))
		}
	}

	task := &writeTask{entry: entry, cmd: cmd, future: future, queued: time.Now()}
	worker := util.HashUint64s(cmd.BlockID.ContainerID, cmd.BlockID.LocalID) % uint64(len(s.writeQueues))
	if !s.writeQueues[worker].Push(task) {
		s.finishWrite(task, dispatcher.Result{}, ErrShutdown)
	}
	return future
}

// writeCommand assembles the full WriteChunk command of an entry
func (s *ContainerStateMachine) writeCommand(entry command.LogEntry, tc *TransactionContext) (*command.Command, error) {
	if tc != nil && tc.Request != nil {
		if tc.Request.Type != command.CommandTWriteChunk {
			return nil, NewError(RetCValidation, "write called for %s at index %d", tc.Request.Type, entry.Index)
		}
		if len(tc.Request.Data) > 0 {
			return tc.Request, nil
		}
	}

	cmd, err := command.Decode(entry.Data)
	if err != nil {
		return nil, s.violation("undecodable log entry %s: %v", entry, err)
	}
	if cmd.Type != command.CommandTWriteChunk {
		return nil, NewError(RetCValidation, "write called for %s at index %d", cmd.Type, entry.Index)
	}
	if len(cmd.Data) == 0 {
		if len(entry.Payload) == 0 {
			return nil, s.violation("write chunk %s at %s has no payload", cmd.Chunk.Name, entry)
		}
		cmd.Data = entry.Payload
	}
	return cmd, nil
}

// runWrite is the handler of the write workers
func (s *ContainerStateMachine) runWrite(task *writeTask) {
	dc := dispatcher.DispatchContext{Term: task.entry.Term, Index: task.entry.Index, Stage: dispatcher.StageWriteData}
	res := s.dispatch(context.Background(), task.cmd, dc)

	var err error
	switch {
	case res.IsSuccess():
	case s.isRecoverable(res.Status):
		log.Infof("[%s] write chunk %s at %s: %s", s.name, task.cmd.Chunk.Name, task.entry, res)
	default:
		s.metrics.writesFailed.Inc()
		reason := "write chunk " + task.cmd.Chunk.Name + " at " + task.entry.String() + " failed: " + res.String()
		s.markUnhealthy(reason)
		err = NewError(RetCUnrecoverable, "%s", reason)
	}
	s.finishWrite(task, res, err)
}

func (s *ContainerStateMachine) finishWrite(task *writeTask, res dispatcher.Result, err error) {
	s.pendingWrites.Delete(task.entry.Index)
	s.metrics.writeLatency.UpdateSince(task.queued)
	task.future.Complete(res, err)
	s.leave()
}

// FlushUpTo returns a future that completes once every write with an index <= index
// has completed, successfully or not. It fails with the first write error.
func (s *ContainerStateMachine) FlushUpTo(index uint64) *util.Future[struct{}] {
	var futures []*util.Future[dispatcher.Result]
	s.pendingWrites.Range(func(idx uint64, f *util.Future[dispatcher.Result]) bool {
		if idx <= index {
			futures = append(futures, f)
		}
		return true
	})
	return util.AllOf(futures...)
}

// PendingWrites returns the number of writes that did not complete yet.
func (s *ContainerStateMachine) PendingWrites() int {
	return s.pendingWrites.Size()
}

// violation marks the replica unhealthy and returns a consistency violation error
func (s *ContainerStateMachine) violation(format string, args ...interface{}) error {
	err := NewError(RetCConsistencyViolation, format, args...)
	s.markUnhealthy(err.Msg)
	return err
}
