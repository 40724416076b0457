package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/common"
	"github.com/acceldata-io/ozone-sub000/lib/raftsm"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/require"
)

type noopStopper struct{}

func (noopStopper) StopReplica(uint64, uint64) error { return nil }

func testServer(t *testing.T) *Server {
	return New(common.ServerConfig{
		Shards:          []uint64{1},
		DataDir:         t.TempDir(),
		ReplicaID:       1,
		ClusterMembers:  map[uint64]string{1: "localhost:63001"},
		WriteWorkers:    2,
		ApplyWorkers:    2,
		MaxPendingApply: 16,
		CacheBytes:      1 << 20,
		EvictionPolicy:  "majority",
		SnapshotRetain:  1,
		ShutdownTimeout: time.Second,
		LogLevel:        "info",
	})
}

func startGroup(t *testing.T, s *Server, shardID uint64) *raftsm.ContainerSM {
	factory := raftsm.CreateStateMachineFactory(s.newStateMachine, noopStopper{}, s.Registry())
	fsm := factory(shardID, 1).(*raftsm.ContainerSM)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewStateMachine(t *testing.T) {
	s := testServer(t)
	fsm := startGroup(t, s, 1)

	machine, ok := s.Registry().Get(1)
	require.True(t, ok)
	require.Same(t, fsm.StateMachine(), machine)
	require.True(t, machine.IsHealthy())
}

func TestAdminHandler(t *testing.T) {
	s := testServer(t)
	fsm := startGroup(t, s, 1)
	h := AdminHandler(s.Registry())

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "csm_unhealthy"))

	rec = get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"1": "Healthy"}, body)

	// a block of an unknown container is a fatal apply result
	put := &command.Command{
		Type:        command.CommandTPutBlock,
		ContainerID: 5,
		BlockID:     command.BlockID{ContainerID: 5, LocalID: 1},
		Chunks:      []command.ChunkInfo{{Name: "c", Len: 1}},
	}
	_, err := fsm.Update([]sm.Entry{{Index: 1, Cmd: put.Serialize()}})
	require.NoError(t, err)

	rec = get(t, h, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"1": "Unhealthy"}, body)
}
