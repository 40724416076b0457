package memdispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("memdispatcher")

// --------------------------------------------------------------------------
// Container state
// --------------------------------------------------------------------------

// ContainerState is the lifecycle state of a container.
type ContainerState int

const (
	StateOpen ContainerState = iota
	StateClosing
	StateClosed
	StateQuasiClosed
)

func (s ContainerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateQuasiClosed:
		return "QUASI_CLOSED"
	default:
		return "UNKNOWN"
	}
}

type container struct {
	mu     sync.Mutex
	id     uint64
	state  ContainerState
	bcsid  uint64
	chunks map[string][]byte              // committed chunk data by chunk name
	blocks map[uint64][]command.ChunkInfo // committed blocks by local id
}

// stagedKey identifies chunk data written ahead of its commit
type stagedKey struct {
	containerID uint64
	chunk       string
}

// Interceptor can replace the result of a dispatch, returning nil continues normally.
// It is used to inject faults and to observe the order of dispatched commands.
type Interceptor func(cmd *command.Command, dc dispatcher.DispatchContext) *dispatcher.Result

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// Dispatcher is an in-memory storage layer implementing dispatcher.Dispatcher and
// dispatcher.ContainerController. Chunk payloads are staged by the WriteData stage and
// become visible in the container once the CommitData stage ran.
type Dispatcher struct {
	volume      string
	containers  *xsync.MapOf[uint64, *container]
	staged      *xsync.MapOf[stagedKey, []byte]
	interceptor Interceptor
}

// New creates an empty in-memory storage layer. volume is reported as the location of every container.
func New(volume string, interceptor Interceptor) *Dispatcher {
	return &Dispatcher{
		volume:      volume,
		containers:  xsync.NewMapOf[uint64, *container](),
		staged:      xsync.NewMapOf[stagedKey, []byte](),
		interceptor: interceptor,
	}
}

// Dispatch executes a command, see dispatcher.Dispatcher.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Dispatcher) Dispatch(_ context.Context, cmd *command.Command, dc dispatcher.DispatchContext) dispatcher.Result {
	if d.interceptor != nil {
		if res := d.interceptor(cmd, dc); res != nil {
			return *res
		}
	}

	switch cmd.Type {
	case command.CommandTCreateContainer:
		return d.createContainer(cmd, dc)
	case command.CommandTCloseContainer:
		return d.closeContainer(cmd)
	case command.CommandTWriteChunk:
		switch dc.Stage {
		case dispatcher.StageWriteData:
			return d.writeData(cmd)
		case dispatcher.StageCommitData:
			return d.commitData(cmd, dc)
		default:
			if res := d.writeData(cmd); !res.IsSuccess() {
				return res
			}
			return d.commitData(cmd, dc)
		}
	case command.CommandTPutBlock:
		return d.putBlock(cmd, dc)
	case command.CommandTReadChunk:
		return d.readChunk(cmd)
	case command.CommandTGetBlock:
		return d.getBlock(cmd)
	default:
		return dispatcher.Failure(dispatcher.StatusInvalidArgument, "unknown command type %s", cmd.Type)
	}
}

func (d *Dispatcher) createContainer(cmd *command.Command, dc dispatcher.DispatchContext) dispatcher.Result {
	_, loaded := d.containers.LoadOrStore(cmd.ContainerID, &container{
		id:     cmd.ContainerID,
		state:  StateOpen,
		chunks: make(map[string][]byte),
		blocks: make(map[uint64][]command.ChunkInfo),
	})
	if loaded {
		// replaying the log after a restart creates the same container again
		log.Debugf("container %d already exists (index %d)", cmd.ContainerID, dc.Index)
		return dispatcher.Result{Status: dispatcher.StatusSuccess, Message: "container already exists"}
	}
	log.Debugf("created container %d at index %d", cmd.ContainerID, dc.Index)
	return dispatcher.Success(nil)
}

func (d *Dispatcher) closeContainer(cmd *command.Command) dispatcher.Result {
	c, ok := d.containers.Load(cmd.ContainerID)
	if !ok {
		return dispatcher.Failure(dispatcher.StatusContainerNotFound, "container %d not found", cmd.ContainerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	log.Infof("closed container %d: %s", cmd.ContainerID, cmd.Reason)
	return dispatcher.Success(nil)
}

// writeData stages the payload. The container may not exist yet because the
// CreateContainer entry before it might not be applied when the write runs.
func (d *Dispatcher) writeData(cmd *command.Command) dispatcher.Result {
	if c, ok := d.containers.Load(cmd.ContainerID); ok {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state != StateOpen {
			return dispatcher.Failure(dispatcher.StatusContainerNotOpen, "container %d is %s", cmd.ContainerID, state)
		}
	}
	if uint64(len(cmd.Data)) != cmd.Chunk.Len {
		return dispatcher.Failure(dispatcher.StatusInvalidArgument, "chunk %s: %d bytes, expected %d", cmd.Chunk.Name, len(cmd.Data), cmd.Chunk.Len)
	}
	data := make([]byte, len(cmd.Data))
	copy(data, cmd.Data)
	d.staged.Store(stagedKey{cmd.ContainerID, cmd.Chunk.Name}, data)
	return dispatcher.Success(nil)
}

func (d *Dispatcher) commitData(cmd *command.Command, dc dispatcher.DispatchContext) dispatcher.Result {
	c, ok := d.containers.Load(cmd.ContainerID)
	if !ok {
		return dispatcher.Failure(dispatcher.StatusContainerNotFound, "container %d not found", cmd.ContainerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
	case StateClosing:
		return dispatcher.Failure(dispatcher.StatusContainerNotOpen, "container %d is %s", cmd.ContainerID, c.state)
	default:
		return dispatcher.Failure(dispatcher.StatusClosedContainerIO, "container %d is %s", cmd.ContainerID, c.state)
	}

	data, staged := d.staged.LoadAndDelete(stagedKey{cmd.ContainerID, cmd.Chunk.Name})
	if !staged {
		if _, committed := c.chunks[cmd.Chunk.Name]; committed {
			return dispatcher.Success(nil)
		}
		return dispatcher.Failure(dispatcher.StatusChunkFileInconsistency, "no data written for chunk %s", cmd.Chunk.Name)
	}
	c.chunks[cmd.Chunk.Name] = data
	if dc.Index > c.bcsid {
		c.bcsid = dc.Index
	}
	return dispatcher.Success(nil)
}

func (d *Dispatcher) putBlock(cmd *command.Command, dc dispatcher.DispatchContext) dispatcher.Result {
	c, ok := d.containers.Load(cmd.ContainerID)
	if !ok {
		return dispatcher.Failure(dispatcher.StatusContainerNotFound, "container %d not found", cmd.ContainerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return dispatcher.Failure(dispatcher.StatusContainerNotOpen, "container %d is %s", cmd.ContainerID, c.state)
	}
	for _, chunk := range cmd.Chunks {
		if _, ok := c.chunks[chunk.Name]; !ok {
			return dispatcher.Failure(dispatcher.StatusChunkFileInconsistency, "block %s references unknown chunk %s", cmd.BlockID, chunk.Name)
		}
	}
	c.blocks[cmd.BlockID.LocalID] = append([]command.ChunkInfo(nil), cmd.Chunks...)
	if dc.Index > c.bcsid {
		c.bcsid = dc.Index
	}
	return dispatcher.Success(nil)
}

// readChunk serves committed data first and falls back to data that was
// written but not yet committed, which is what a lagging follower asks for.
func (d *Dispatcher) readChunk(cmd *command.Command) dispatcher.Result {
	if c, ok := d.containers.Load(cmd.ContainerID); ok {
		c.mu.Lock()
		data, found := c.chunks[cmd.Chunk.Name]
		c.mu.Unlock()
		if found {
			return dispatcher.Success(data)
		}
	}
	if data, ok := d.staged.Load(stagedKey{cmd.ContainerID, cmd.Chunk.Name}); ok {
		return dispatcher.Success(data)
	}
	return dispatcher.Failure(dispatcher.StatusNoSuchBlock, "chunk %s of container %d not found", cmd.Chunk.Name, cmd.ContainerID)
}

func (d *Dispatcher) getBlock(cmd *command.Command) dispatcher.Result {
	c, ok := d.containers.Load(cmd.ContainerID)
	if !ok {
		return dispatcher.Failure(dispatcher.StatusContainerNotFound, "container %d not found", cmd.ContainerID)
	}
	c.mu.Lock()
	chunks, found := c.blocks[cmd.BlockID.LocalID]
	c.mu.Unlock()
	if !found {
		return dispatcher.Failure(dispatcher.StatusNoSuchBlock, "block %s not found", cmd.BlockID)
	}
	block := command.Command{Type: command.CommandTPutBlock, ContainerID: cmd.ContainerID, BlockID: cmd.BlockID, Chunks: chunks}
	return dispatcher.Success(block.Serialize())
}

// --------------------------------------------------------------------------
// ContainerController
// --------------------------------------------------------------------------

func (d *Dispatcher) MarkForClose(containerID uint64) error {
	c, ok := d.containers.Load(containerID)
	if !ok {
		return fmt.Errorf("container %d not found", containerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen:
		c.state = StateClosing
		return nil
	case StateClosing, StateClosed:
		return nil
	default:
		return fmt.Errorf("container %d is %s and can not be closed", containerID, c.state)
	}
}

func (d *Dispatcher) QuasiClose(containerID uint64, reason string) error {
	c, ok := d.containers.Load(containerID)
	if !ok {
		return fmt.Errorf("container %d not found", containerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateQuasiClosed
	log.Warningf("container %d quasi closed: %s", containerID, reason)
	return nil
}

func (d *Dispatcher) GetContainerLocation(containerID uint64) (dispatcher.ContainerLocation, bool) {
	if _, ok := d.containers.Load(containerID); !ok {
		return dispatcher.ContainerLocation{}, false
	}
	return dispatcher.ContainerLocation{ContainerID: containerID, Volume: d.volume}, true
}

func (d *Dispatcher) ReconcileContainers(expected map[uint64]uint64) ([]uint64, error) {
	var missing []uint64
	for id, bcsid := range expected {
		c, ok := d.containers.Load(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		c.mu.Lock()
		if c.bcsid < bcsid {
			log.Warningf("container %d is behind the snapshot (bcsid %d < %d)", id, c.bcsid, bcsid)
		}
		c.mu.Unlock()
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, nil
}

// --------------------------------------------------------------------------
// Inspection helpers
// --------------------------------------------------------------------------

// State returns the state of a container.
func (d *Dispatcher) State(containerID uint64) (ContainerState, bool) {
	c, ok := d.containers.Load(containerID)
	if !ok {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, true
}

// BCSID returns the block commit sequence id of a container.
func (d *Dispatcher) BCSID(containerID uint64) (uint64, bool) {
	c, ok := d.containers.Load(containerID)
	if !ok {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bcsid, true
}

// ChunkData returns the committed data of a chunk.
func (d *Dispatcher) ChunkData(containerID uint64, chunk string) ([]byte, bool) {
	c, ok := d.containers.Load(containerID)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.chunks[chunk]
	return data, ok
}

// DropStaged removes staged data, it simulates a lost write ahead file.
func (d *Dispatcher) DropStaged(containerID uint64, chunk string) {
	d.staged.Delete(stagedKey{containerID, chunk})
}
