package csm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher/memdispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/util"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	mu      sync.Mutex
	reasons []string
}

func (c *recordingCloser) CloseGroup(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
}

func (c *recordingCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reasons)
}

func newTestStateMachine(t *testing.T, interceptor memdispatcher.Interceptor, opts ...func(*Config)) (*ContainerStateMachine, *memdispatcher.Dispatcher, *recordingCloser) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WriteWorkers = 4
	cfg.ApplyWorkers = 4
	cfg.SnapshotDir = t.TempDir()
	cfg.ShutdownTimeout = 2 * time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	d := memdispatcher.New("vol-1", interceptor)
	closer := &recordingCloser{}
	s, err := New("group-1", cfg, d, d, closer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, d, closer
}

func createContainer(id uint64) *command.Command {
	return &command.Command{Type: command.CommandTCreateContainer, ContainerID: id}
}

func writeChunk(containerID, localID uint64, name string, data []byte) *command.Command {
	return &command.Command{
		Type:        command.CommandTWriteChunk,
		ContainerID: containerID,
		BlockID:     command.BlockID{ContainerID: containerID, LocalID: localID},
		Chunk:       command.ChunkInfo{Name: name, Len: uint64(len(data))},
		Data:        data,
	}
}

// propose runs Prepare and returns the appended log entry with the leader context
func propose(t *testing.T, s *ContainerStateMachine, term, index uint64, cmd *command.Command) (command.LogEntry, *TransactionContext) {
	t.Helper()
	logData, tc, err := s.Prepare(cmd)
	require.NoError(t, err)
	return command.LogEntry{Term: term, Index: index, Data: logData}, tc
}

// await waits for a future without letting a broken test hang forever
func await[T any](t *testing.T, f *util.Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not complete in time")
	}
	return f.Get()
}

func applyAndWait(t *testing.T, s *ContainerStateMachine, entry command.LogEntry, tc *TransactionContext) (dispatcher.Result, error) {
	t.Helper()
	f, err := s.Apply(context.Background(), entry, tc)
	require.NoError(t, err)
	return await(t, f)
}
