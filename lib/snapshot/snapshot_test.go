package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	s := Snapshot{Term: 3, Index: 42, CommitMap: map[uint64]uint64{10: 6, 1: 0, 2: 41}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, s))

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, s, decoded)

	// same state, same bytes
	var again bytes.Buffer
	require.NoError(t, Encode(&again, s))
	require.Equal(t, buf.Bytes(), again.Bytes())
}

func TestDecodeCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Snapshot{Term: 1, Index: 1, CommitMap: map[uint64]uint64{5: 5}}))
	data := buf.Bytes()

	flipped := append([]byte(nil), data...)
	flipped[headerSize+3] ^= 0xff
	_, err := Decode(bytes.NewReader(flipped))
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = Decode(bytes.NewReader(data[:headerSize+4]))
	require.Error(t, err)

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err = Decode(bytes.NewReader(badMagic))
	require.Error(t, err)
}

func TestFileNameOrdering(t *testing.T) {
	require.Less(t, FileName(1, 99), FileName(1, 100))
	require.Less(t, FileName(1, 100), FileName(2, 1))

	term, index, ok := ParseFileName("/some/dir/" + FileName(7, 1234))
	require.True(t, ok)
	require.Equal(t, uint64(7), term)
	require.Equal(t, uint64(1234), index)

	_, _, ok = ParseFileName("snapshot_garbage.snap")
	require.False(t, ok)
	_, _, ok = ParseFileName("other.txt")
	require.False(t, ok)
}

func TestWriteLatestPurge(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := Latest(dir)
	require.NoError(t, err)
	require.False(t, ok)

	for _, idx := range []uint64{5, 20, 10} {
		_, err := Write(dir, Snapshot{Term: 1, Index: idx, CommitMap: map[uint64]uint64{1: idx}})
		require.NoError(t, err)
	}
	// unrelated files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	latest, ok, err := Latest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), latest.Index)

	s, err := Read(latest.Path)
	require.NoError(t, err)
	require.Equal(t, uint64(20), s.CommitMap[1])

	removed, err := Purge(dir, 2)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, filepath.Join(dir, FileName(1, 5)), removed[0])

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, uint64(10), files[0].Index)
}
