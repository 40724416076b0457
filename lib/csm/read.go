package csm

import (
	"context"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
)

// Read returns the payload of a WriteChunk entry for a follower that is catching up.
// The payload is taken from the leader context, the entry, the payload cache, or rebuilt
// from storage, in that order. A failed or short read from storage means the local copy
// is broken and marks the replica unhealthy.
func (s *ContainerStateMachine) Read(ctx context.Context, entry command.LogEntry, tc *TransactionContext) ([]byte, error) {
	if tc != nil && tc.Request != nil && len(tc.Request.Data) > 0 {
		return tc.Request.Data, nil
	}
	if len(entry.Payload) > 0 {
		return entry.Payload, nil
	}
	if data, ok := s.cache.Get(entry.Index); ok {
		s.metrics.cacheHits.Inc()
		return data, nil
	}
	s.metrics.cacheMisses.Inc()

	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.leave()
	return s.readFromDisk(ctx, entry)
}

// readFromDisk rebuilds the payload with a ReadChunk synthesized from the log metadata
func (s *ContainerStateMachine) readFromDisk(ctx context.Context, entry command.LogEntry) ([]byte, error) {
	start := time.Now()
	defer s.metrics.readLatency.UpdateSince(start)

	meta, err := command.Decode(entry.Data)
	if err != nil {
		return nil, s.violation("undecodable log entry %s: %v", entry, err)
	}
	if meta.Type != command.CommandTWriteChunk {
		return nil, NewError(RetCValidation, "read called for %s at %s", meta.Type, entry)
	}

	if err := s.waitReadBandwidth(ctx, meta.Chunk.Len); err != nil {
		return nil, err
	}

	read := &command.Command{
		Type:        command.CommandTReadChunk,
		ContainerID: meta.ContainerID,
		BlockID:     meta.BlockID,
		Chunk:       meta.Chunk,
	}
	res := s.dispatch(ctx, read, dispatcher.DispatchContext{Term: entry.Term, Index: entry.Index, Stage: dispatcher.StageReadOnly})
	if !res.IsSuccess() {
		s.metrics.diskReadFailures.Inc()
		return nil, s.violation("reading chunk %s for %s failed: %s", meta.Chunk.Name, entry, res)
	}
	if uint64(len(res.Payload)) != meta.Chunk.Len {
		s.metrics.diskReadFailures.Inc()
		return nil, s.violation("chunk %s for %s: read %d bytes, expected %d", meta.Chunk.Name, entry, len(res.Payload), meta.Chunk.Len)
	}
	return res.Payload, nil
}

// waitReadBandwidth blocks until n bytes may be read, requests larger than the burst are
// split so they never fail
func (s *ContainerStateMachine) waitReadBandwidth(ctx context.Context, n uint64) error {
	if s.readLimiter == nil {
		return nil
	}
	burst := uint64(s.readLimiter.Burst())
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := s.readLimiter.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
