package csm

import (
	"context"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
)

// Stats is the reply of a QueryTStats query.
type Stats struct {
	Health           HealthState
	IsLeader         bool
	Term             uint64
	LastApplied      command.TermIndex
	PendingWrites    int
	ActiveContainers int
	Containers       int
	CacheEntries     int
	CacheBytes       int
	Latency          map[string]LatencyStats // write, apply and read
}

// QueryReadOnly answers queries that never touch the log. QueryTDispatch runs a read-only
// command (ReadChunk, GetBlock) against the storage layer and returns the dispatcher.Result.
func (s *ContainerStateMachine) QueryReadOnly(ctx context.Context, q command.Query) (interface{}, error) {
	switch q.Type {
	case command.QueryTDispatch:
		if q.Command == nil || !q.Command.Type.IsReadOnly() {
			return nil, NewError(RetCValidation, "dispatch query needs a read-only command")
		}
		return s.dispatch(ctx, q.Command, dispatcher.DispatchContext{Stage: dispatcher.StageReadOnly}), nil
	case command.QueryTCommitMap:
		return s.CommitMap(), nil
	case command.QueryTHealth:
		return s.Health(), nil
	case command.QueryTStats:
		return s.Stats(), nil
	default:
		return nil, NewError(RetCValidation, "unknown query type %s", q.Type)
	}
}

// Stats returns a snapshot of the internal counters.
func (s *ContainerStateMachine) Stats() Stats {
	return Stats{
		Health:           s.Health(),
		IsLeader:         s.isLeader.Load(),
		Term:             s.term.Load(),
		LastApplied:      s.applied.lastApplied(),
		PendingWrites:    s.pendingWrites.Size(),
		ActiveContainers: s.applyQueues.ActiveKeys(),
		Containers:       s.commitMap.Size(),
		CacheEntries:     s.cache.Len(),
		CacheBytes:       s.cache.SizeBytes(),
		Latency:          s.metrics.latencyStats(),
	}
}
