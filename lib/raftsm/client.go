package raftsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var retries = 5

// Proposer is the part of *dragonboat.NodeHost used by the ContainerClient.
type Proposer interface {
	SyncPropose(ctx context.Context, session *client.Session, cmd []byte) (sm.Result, error)
	SyncRead(ctx context.Context, shardID uint64, query interface{}) (interface{}, error)
	GetNoOPSession(shardID uint64) *client.Session
}

// ContainerClient submits container commands to one replication group.
// Commands are validated before they are proposed, invalid commands never reach the log.
type ContainerClient struct {
	nh      Proposer
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewContainerClient creates a client for the replication group shardID.
func NewContainerClient(nh Proposer, shardID uint64, timeout time.Duration) *ContainerClient {
	return &ContainerClient{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations
// --------------------------------------------------------------------------

// propose sends a command via SyncPropose and retries while the system is busy.
// A non-zero result value is returned as *csm.Error.
func (c *ContainerClient) propose(cmd *command.Command) ([]byte, error) {
	if err := csm.ValidateCommand(cmd); err != nil {
		return nil, err
	}
	data := cmd.Serialize()

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		res, err := c.nh.SyncPropose(ctx, c.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(c.timeout / 10)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to propose %s: %w", cmd.Type, err)
		}
		if res.Value != uint64(csm.RetCSuccess) {
			return nil, csm.NewError(csm.RetCode(res.Value), "%s", res.Data)
		}
		return res.Data, nil
	}
	return nil, fmt.Errorf("failed to propose %s: system busy after %d retries", cmd.Type, retries)
}

// read sends a query via SyncRead.
func (c *ContainerClient) read(q command.Query) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.nh.SyncRead(ctx, c.shardID, q)
}

// readCommand runs a read-only command and returns the payload of the result
func (c *ContainerClient) readCommand(cmd *command.Command) ([]byte, error) {
	out, err := c.read(command.Query{Type: command.QueryTDispatch, Command: cmd})
	if err != nil {
		return nil, err
	}
	res, ok := out.(dispatcher.Result)
	if !ok {
		return nil, csm.NewError(csm.RetCInternal, "unexpected query result %T", out)
	}
	if !res.IsSuccess() {
		return nil, csm.NewError(csm.RetCRecoverable, "%s", res)
	}
	return res.Payload, nil
}

// --------------------------------------------------------------------------
// Container operations
// --------------------------------------------------------------------------

func (c *ContainerClient) CreateContainer(containerID uint64) error {
	_, err := c.propose(&command.Command{Type: command.CommandTCreateContainer, ContainerID: containerID})
	return err
}

func (c *ContainerClient) CloseContainer(containerID uint64, reason string) error {
	_, err := c.propose(&command.Command{Type: command.CommandTCloseContainer, ContainerID: containerID, Reason: reason})
	return err
}

// WriteChunk writes data as chunk of a block. The chunk length is taken from data.
func (c *ContainerClient) WriteChunk(block command.BlockID, chunk command.ChunkInfo, data []byte) error {
	chunk.Len = uint64(len(data))
	_, err := c.propose(&command.Command{
		Type:        command.CommandTWriteChunk,
		ContainerID: block.ContainerID,
		BlockID:     block,
		Chunk:       chunk,
		Data:        data,
	})
	return err
}

func (c *ContainerClient) PutBlock(block command.BlockID, chunks []command.ChunkInfo) error {
	_, err := c.propose(&command.Command{
		Type:        command.CommandTPutBlock,
		ContainerID: block.ContainerID,
		BlockID:     block,
		Chunks:      chunks,
	})
	return err
}

func (c *ContainerClient) ReadChunk(block command.BlockID, chunk command.ChunkInfo) ([]byte, error) {
	return c.readCommand(&command.Command{
		Type:        command.CommandTReadChunk,
		ContainerID: block.ContainerID,
		BlockID:     block,
		Chunk:       chunk,
	})
}

// GetBlock returns the committed chunk list of a block.
func (c *ContainerClient) GetBlock(block command.BlockID) ([]command.ChunkInfo, error) {
	data, err := c.readCommand(&command.Command{
		Type:        command.CommandTGetBlock,
		ContainerID: block.ContainerID,
		BlockID:     block,
	})
	if err != nil {
		return nil, err
	}
	decoded, err := command.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding block %s: %w", block, err)
	}
	return decoded.Chunks, nil
}

// CommitMap returns the containerID -> BCSID map of the group.
func (c *ContainerClient) CommitMap() (map[uint64]uint64, error) {
	out, err := c.read(command.Query{Type: command.QueryTCommitMap})
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[uint64]uint64)
	if !ok {
		return nil, csm.NewError(csm.RetCInternal, "unexpected query result %T", out)
	}
	return m, nil
}

// Stats returns the statistics of the replica serving the read.
func (c *ContainerClient) Stats() (csm.Stats, error) {
	out, err := c.read(command.Query{Type: command.QueryTStats})
	if err != nil {
		return csm.Stats{}, err
	}
	stats, ok := out.(csm.Stats)
	if !ok {
		return csm.Stats{}, csm.NewError(csm.RetCInternal, "unexpected query result %T", out)
	}
	return stats, nil
}
