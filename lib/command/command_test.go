package command

import (
	"bytes"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "WriteChunk with data",
			command: Command{
				Type:        CommandTWriteChunk,
				ContainerID: 1,
				Chunk:       ChunkInfo{Name: "c1", Len: 4},
				Data:        []byte("data"),
			},
			expected: 25 + (28 + 2) + 4 + 4 + 4, // header + chunk + count + reason + data
		},
		{
			name: "PutBlock with two chunks",
			command: Command{
				Type:   CommandTPutBlock,
				Chunks: []ChunkInfo{{Name: "a"}, {Name: "bc"}},
			},
			expected: 25 + 28 + 4 + (28 + 1) + (28 + 2) + 4,
		},
		{
			name:     "CloseContainer with reason",
			command:  Command{Type: CommandTCloseContainer, Reason: "full"},
			expected: 25 + 28 + 4 + 4 + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
			if got := len(tt.command.Serialize()); got != tt.expected {
				t.Errorf("len(Serialize()) = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestWriteChunkRoundTrip checks that a full and a stripped WriteChunk survive encoding
func TestWriteChunkRoundTrip(t *testing.T) {
	full := Command{
		Type:        CommandTWriteChunk,
		ContainerID: 10,
		BlockID:     BlockID{ContainerID: 10, LocalID: 1},
		Chunk:       ChunkInfo{Name: "10_1_chunk_0", Offset: 0, Len: 6, Checksum: 42},
		Data:        []byte{0, 1, 2, 3, 254, 255},
	}

	var decoded Command
	if err := decoded.Deserialize(full.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if decoded.Type != full.Type || decoded.ContainerID != full.ContainerID || decoded.BlockID != full.BlockID {
		t.Errorf("header mismatch: got %+v, want %+v", decoded, full)
	}
	if decoded.Chunk != full.Chunk {
		t.Errorf("chunk mismatch: got %+v, want %+v", decoded.Chunk, full.Chunk)
	}
	if !bytes.Equal(decoded.Data, full.Data) {
		t.Errorf("data mismatch: got %v, want %v", decoded.Data, full.Data)
	}
	if decoded.IsStripped() {
		t.Errorf("full command reported as stripped")
	}

	stripped := full.Stripped()
	if full.Data == nil {
		t.Fatalf("Stripped() modified the original command")
	}
	decoded = Command{}
	if err := decoded.Deserialize(stripped.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if !decoded.IsStripped() {
		t.Errorf("expected stripped command, got data %v", decoded.Data)
	}
	if decoded.Chunk.Len != 6 {
		t.Errorf("stripped command lost chunk metadata: %+v", decoded.Chunk)
	}
}

// TestPutBlockRoundTrip checks the chunk list and reason encoding
func TestPutBlockRoundTrip(t *testing.T) {
	cmd := Command{
		Type:        CommandTPutBlock,
		ContainerID: 7,
		BlockID:     BlockID{ContainerID: 7, LocalID: 99},
		Chunks: []ChunkInfo{
			{Name: "7_99_chunk_0", Offset: 0, Len: 1024},
			{Name: "7_99_chunk_1", Offset: 1024, Len: 512},
		},
		Reason: "你好世界",
	}

	decoded, err := Decode(cmd.Serialize())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(decoded.Chunks) != 2 || decoded.Chunks[1] != cmd.Chunks[1] {
		t.Errorf("chunks mismatch: got %+v, want %+v", decoded.Chunks, cmd.Chunks)
	}
	if decoded.Reason != cmd.Reason {
		t.Errorf("reason mismatch: got %q, want %q", decoded.Reason, cmd.Reason)
	}
	if decoded.Data != nil {
		t.Errorf("expected nil data, got %v", decoded.Data)
	}
}

// TestDeserializeErrors tests Deserialize with malformed input
func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{Type: CommandTPutBlock, Chunks: []ChunkInfo{{Name: "x"}}}).Serialize()

	unknown := make([]byte, len(valid))
	copy(unknown, valid)
	unknown[0] = 200

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "header only", data: valid[:headerSize]},
		{name: "truncated chunk list", data: valid[:headerSize+chunkFixed+4+10]},
		{name: "unknown type", data: unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Command
			if err := c.Deserialize(tt.data); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestCommandTypeReadOnly(t *testing.T) {
	for _, ct := range []CommandType{CommandTReadChunk, CommandTGetBlock} {
		if !ct.IsReadOnly() {
			t.Errorf("%s should be read-only", ct)
		}
	}
	for _, ct := range []CommandType{CommandTCreateContainer, CommandTCloseContainer, CommandTWriteChunk, CommandTPutBlock} {
		if ct.IsReadOnly() {
			t.Errorf("%s should not be read-only", ct)
		}
	}
}
