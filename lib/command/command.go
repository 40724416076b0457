package command

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible container operations carried by the replicated log.
type CommandType uint8

const (
	CommandTCreateContainer CommandType = iota // Create an empty open container.
	CommandTCloseContainer                     // Close a container, no further writes are accepted.
	CommandTWriteChunk                         // Persist a block scoped byte payload (the bulk data path).
	CommandTReadChunk                          // Read a chunk back (read-only, never replicated).
	CommandTPutBlock                           // Commit the chunk list of a block.
	CommandTGetBlock                           // Read the committed chunk list of a block (read-only).
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTCreateContainer:
		return "CreateContainer"
	case CommandTCloseContainer:
		return "CloseContainer"
	case CommandTWriteChunk:
		return "WriteChunk"
	case CommandTReadChunk:
		return "ReadChunk"
	case CommandTPutBlock:
		return "PutBlock"
	case CommandTGetBlock:
		return "GetBlock"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// IsReadOnly reports whether the command type only reads state.
// Read-only commands are served through QueryReadOnly and are never appended to the log.
func (ct CommandType) IsReadOnly() bool {
	return ct == CommandTReadChunk || ct == CommandTGetBlock
}

// Valid reports whether ct is a known command type.
func (ct CommandType) Valid() bool {
	return ct <= CommandTGetBlock
}

// BlockID identifies a block inside a container.
type BlockID struct {
	ContainerID uint64
	LocalID     uint64
}

func (b BlockID) String() string {
	return fmt.Sprintf("%d/%d", b.ContainerID, b.LocalID)
}

// ChunkInfo describes one chunk of a block.
type ChunkInfo struct {
	Name     string
	Offset   uint64
	Len      uint64
	Checksum uint64 // xxhash64 of the chunk data, 0 = not set
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type        CommandType
	ContainerID uint64
	BlockID     BlockID
	Chunk       ChunkInfo   // WriteChunk, ReadChunk
	Chunks      []ChunkInfo // PutBlock
	Reason      string      // CloseContainer
	Data        []byte      // WriteChunk payload, nil once stripped for the log
}

// IsStripped reports whether this is a WriteChunk whose payload was removed for the log.
func (command *Command) IsStripped() bool {
	return command.Type == CommandTWriteChunk && len(command.Data) == 0
}

// Stripped returns a shallow copy of the command without its payload.
func (command *Command) Stripped() *Command {
	c := *command
	c.Data = nil
	return &c
}

func (command *Command) String() string {
	return fmt.Sprintf("%s{container=%d, block=%s, chunk=%s@%d+%d}",
		command.Type, command.ContainerID, command.BlockID, command.Chunk.Name, command.Chunk.Offset, command.Chunk.Len)
}

// --------------------------------------------------------------------------
// Binary encoding
// --------------------------------------------------------------------------

const (
	headerSize = 1 + 8 + 8 + 8 // Type + ContainerID + BlockID.ContainerID + BlockID.LocalID
	chunkFixed = 4 + 8 + 8 + 8 // NameLen + Offset + Len + Checksum
)

func chunkSize(c ChunkInfo) int {
	return chunkFixed + len(c.Name)
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	size := headerSize + chunkSize(command.Chunk) + 4 // header + chunk + chunk count
	for _, c := range command.Chunks {
		size += chunkSize(c)
	}
	size += 4 + len(command.Reason) // ReasonLen + Reason
	size += len(command.Data)
	return size
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for the command type,
// 8 bytes container id, 8+8 bytes block id,
// the chunk (4 bytes name length, name, 8 bytes offset, 8 bytes len, 8 bytes checksum),
// 4 bytes chunk count followed by the chunks,
// 4 bytes reason length, reason,
// N bytes data (optional, everything that is left)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.ContainerID)
	binary.BigEndian.PutUint64(result[9:17], command.BlockID.ContainerID)
	binary.BigEndian.PutUint64(result[17:25], command.BlockID.LocalID)

	pos := putChunk(result, headerSize, command.Chunk)

	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(command.Chunks)))
	pos += 4
	for _, c := range command.Chunks {
		pos = putChunk(result, pos, c)
	}

	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(command.Reason)))
	pos += 4
	pos += copy(result[pos:], command.Reason)

	copy(result[pos:], command.Data)
	return result
}

func putChunk(buf []byte, pos int, c ChunkInfo) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(c.Name)))
	pos += 4
	pos += copy(buf[pos:], c.Name)
	binary.BigEndian.PutUint64(buf[pos:pos+8], c.Offset)
	binary.BigEndian.PutUint64(buf[pos+8:pos+16], c.Len)
	binary.BigEndian.PutUint64(buf[pos+16:pos+24], c.Checksum)
	return pos + 24
}

func readChunk(data []byte, pos int) (ChunkInfo, int, error) {
	var c ChunkInfo
	if len(data) < pos+4 {
		return c, pos, fmt.Errorf("data too short for chunk name length")
	}
	nameLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+nameLen+24 {
		return c, pos, fmt.Errorf("data too short for chunk of name length %d", nameLen)
	}
	c.Name = string(data[pos : pos+nameLen])
	pos += nameLen
	c.Offset = binary.BigEndian.Uint64(data[pos : pos+8])
	c.Len = binary.BigEndian.Uint64(data[pos+8 : pos+16])
	c.Checksum = binary.BigEndian.Uint64(data[pos+16 : pos+24])
	return c, pos + 24, nil
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	if !command.Type.Valid() {
		return fmt.Errorf("unknown command type %d", data[0])
	}
	command.ContainerID = binary.BigEndian.Uint64(data[1:9])
	command.BlockID.ContainerID = binary.BigEndian.Uint64(data[9:17])
	command.BlockID.LocalID = binary.BigEndian.Uint64(data[17:25])

	var err error
	pos := headerSize
	if command.Chunk, pos, err = readChunk(data, pos); err != nil {
		return err
	}

	if len(data) < pos+4 {
		return fmt.Errorf("data too short for chunk count")
	}
	count := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	// each chunk needs at least chunkFixed bytes, reject absurd counts early
	if count > (len(data)-pos)/chunkFixed {
		return fmt.Errorf("chunk count %d exceeds remaining data", count)
	}
	command.Chunks = nil
	if count > 0 {
		command.Chunks = make([]ChunkInfo, count)
		for i := 0; i < count; i++ {
			if command.Chunks[i], pos, err = readChunk(data, pos); err != nil {
				return err
			}
		}
	}

	if len(data) < pos+4 {
		return fmt.Errorf("data too short for reason length")
	}
	reasonLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+reasonLen {
		return fmt.Errorf("data too short for reason of length %d", reasonLen)
	}
	command.Reason = string(data[pos : pos+reasonLen])
	pos += reasonLen

	if len(data) > pos {
		command.Data = make([]byte, len(data)-pos)
		copy(command.Data, data[pos:])
	} else {
		command.Data = nil
	}
	return nil
}

// Decode is a convenience wrapper around Deserialize.
func Decode(data []byte) (*Command, error) {
	c := &Command{}
	if err := c.Deserialize(data); err != nil {
		return nil, err
	}
	return c, nil
}
