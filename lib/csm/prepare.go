package csm

import (
	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/cespare/xxhash/v2"
)

// TransactionContext is the leader side context of a proposed command. It keeps the full
// request while the log only carries the stripped variant.
type TransactionContext struct {
	Request *command.Command // full command including the WriteChunk payload
	LogData []byte           // encoded command appended to the log
}

// Prepare validates a command and splits it into the bytes stored in the log and the
// context kept on the leader. For WriteChunk the payload is removed from the log bytes.
// A validation failure is returned as *Error with RetCValidation and must not be replicated.
func (s *ContainerStateMachine) Prepare(cmd *command.Command) ([]byte, *TransactionContext, error) {
	if err := ValidateCommand(cmd); err != nil {
		s.metrics.validationFailures.Inc()
		return nil, nil, err
	}

	logData := cmd.Serialize()
	if cmd.Type == command.CommandTWriteChunk {
		logData = cmd.Stripped().Serialize()
	}
	return logData, &TransactionContext{Request: cmd, LogData: logData}, nil
}

// ValidateCommand checks a command before it is proposed. It is used by Prepare and by
// clients that want to fail early.
func ValidateCommand(cmd *command.Command) error {
	if cmd == nil {
		return NewError(RetCValidation, "command is nil")
	}
	if !cmd.Type.Valid() {
		return NewError(RetCValidation, "unknown command type %s", cmd.Type)
	}
	if cmd.Type.IsReadOnly() {
		return NewError(RetCValidation, "%s is read-only and can not be proposed", cmd.Type)
	}
	if cmd.ContainerID == 0 {
		return NewError(RetCValidation, "%s without container id", cmd.Type)
	}

	switch cmd.Type {
	case command.CommandTWriteChunk:
		if len(cmd.Data) == 0 {
			return NewError(RetCValidation, "write chunk %s without data", cmd.Chunk.Name)
		}
		if uint64(len(cmd.Data)) != cmd.Chunk.Len {
			return NewError(RetCValidation, "write chunk %s: %d bytes of data, chunk length is %d", cmd.Chunk.Name, len(cmd.Data), cmd.Chunk.Len)
		}
		if cmd.Chunk.Name == "" {
			return NewError(RetCValidation, "write chunk without chunk name")
		}
		if cmd.BlockID.ContainerID != cmd.ContainerID {
			return NewError(RetCValidation, "block %s does not belong to container %d", cmd.BlockID, cmd.ContainerID)
		}
		if cmd.Chunk.Checksum != 0 && xxhash.Sum64(cmd.Data) != cmd.Chunk.Checksum {
			return NewError(RetCValidation, "write chunk %s: checksum mismatch", cmd.Chunk.Name)
		}
	case command.CommandTPutBlock:
		if len(cmd.Chunks) == 0 {
			return NewError(RetCValidation, "put block %s without chunks", cmd.BlockID)
		}
		if cmd.BlockID.ContainerID != cmd.ContainerID {
			return NewError(RetCValidation, "block %s does not belong to container %d", cmd.BlockID, cmd.ContainerID)
		}
	}
	return nil
}
