package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum       = "CSMSNAP\x00" // File format identifier
	formatVersion  = 1
	filePrefix     = "snapshot_"
	fileSuffix     = ".snap"
	headerSize     = len(magicNum) + 4 + 8 + 8 + 8 // magic + version + term + index + count
	entrySize      = 8 + 8                         // containerID + bcsid
	checksumSize   = 8
	tempFileSuffix = ".tmp"
)

var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Snapshot is the persisted state of a container state machine: the log position it
// was taken at and the last block commit sequence id of every container.
type Snapshot struct {
	Term      uint64
	Index     uint64
	CommitMap map[uint64]uint64
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode writes the snapshot with the format:
// 8 bytes magic, 4 bytes version, 8 bytes term, 8 bytes index, 8 bytes count,
// count * (8 bytes container id, 8 bytes bcsid) sorted by container id,
// 8 bytes xxhash64 of everything before.
func Encode(w io.Writer, s Snapshot) error {
	digest := xxhash.New()
	bw := bufio.NewWriter(io.MultiWriter(w, digest))

	header := make([]byte, headerSize)
	copy(header, magicNum)
	pos := len(magicNum)
	binary.BigEndian.PutUint32(header[pos:pos+4], formatVersion)
	binary.BigEndian.PutUint64(header[pos+4:pos+12], s.Term)
	binary.BigEndian.PutUint64(header[pos+12:pos+20], s.Index)
	binary.BigEndian.PutUint64(header[pos+20:pos+28], uint64(len(s.CommitMap)))
	if _, err := bw.Write(header); err != nil {
		return err
	}

	// sorted so the same state always produces the same bytes
	ids := make([]uint64, 0, len(s.CommitMap))
	for id := range s.CommitMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entry := make([]byte, entrySize)
	for _, id := range ids {
		binary.BigEndian.PutUint64(entry[0:8], id)
		binary.BigEndian.PutUint64(entry[8:16], s.CommitMap[id])
		if _, err := bw.Write(entry); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	sum := make([]byte, checksumSize)
	binary.BigEndian.PutUint64(sum, digest.Sum64())
	_, err := w.Write(sum)
	return err
}

// Decode reads a snapshot written by Encode and verifies its checksum.
func Decode(r io.Reader) (Snapshot, error) {
	digest := xxhash.New()
	br := io.TeeReader(bufio.NewReader(r), digest)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if string(header[:len(magicNum)]) != magicNum {
		return Snapshot{}, fmt.Errorf("invalid snapshot magic %q", header[:len(magicNum)])
	}
	pos := len(magicNum)
	if v := binary.BigEndian.Uint32(header[pos : pos+4]); v != formatVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", v)
	}

	s := Snapshot{
		Term:  binary.BigEndian.Uint64(header[pos+4 : pos+12]),
		Index: binary.BigEndian.Uint64(header[pos+12 : pos+20]),
	}
	count := binary.BigEndian.Uint64(header[pos+20 : pos+28])
	s.CommitMap = make(map[uint64]uint64)

	entry := make([]byte, entrySize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, entry); err != nil {
			return Snapshot{}, fmt.Errorf("failed to read snapshot entry %d of %d: %w", i, count, err)
		}
		s.CommitMap[binary.BigEndian.Uint64(entry[0:8])] = binary.BigEndian.Uint64(entry[8:16])
	}

	expected := digest.Sum64()
	sum := make([]byte, checksumSize)
	if _, err := io.ReadFull(br, sum); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot checksum: %w", err)
	}
	if binary.BigEndian.Uint64(sum) != expected {
		return Snapshot{}, ErrChecksumMismatch
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Files
// --------------------------------------------------------------------------

// FileName returns the deterministic file name of a snapshot taken at (term, index).
// Both numbers are zero padded so the lexical order of the names is the log order.
func FileName(term, index uint64) string {
	return fmt.Sprintf("%s%020d_%020d%s", filePrefix, term, index, fileSuffix)
}

// ParseFileName extracts term and index from a snapshot file name.
func ParseFileName(name string) (term, index uint64, ok bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return 0, 0, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	if _, err := fmt.Sscanf(core, "%d_%d", &term, &index); err != nil {
		return 0, 0, false
	}
	return term, index, true
}

// Write persists the snapshot into dir. The file is written to a temporary name,
// synced and renamed so a crash never leaves a partial snapshot behind.
func Write(dir string, s Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(s.Term, s.Index))
	tmp := path + tempFileSuffix

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if err := Encode(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Read loads a snapshot file.
func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()
	return Decode(f)
}

// FileInfo is a snapshot file found in a directory.
type FileInfo struct {
	Path  string
	Term  uint64
	Index uint64
}

// List returns all snapshot files of dir, oldest first.
func List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		term, index, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		files = append(files, FileInfo{Path: filepath.Join(dir, e.Name()), Term: term, Index: index})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Term != files[j].Term {
			return files[i].Term < files[j].Term
		}
		return files[i].Index < files[j].Index
	})
	return files, nil
}

// Latest returns the newest snapshot file of dir, ok=false if there is none.
func Latest(dir string) (FileInfo, bool, error) {
	files, err := List(dir)
	if err != nil || len(files) == 0 {
		return FileInfo{}, false, err
	}
	return files[len(files)-1], true, nil
}

// Purge removes all but the newest retain snapshot files and returns the removed paths.
func Purge(dir string, retain int) ([]string, error) {
	if retain < 1 {
		retain = 1
	}
	files, err := List(dir)
	if err != nil || len(files) <= retain {
		return nil, err
	}
	var removed []string
	for _, f := range files[:len(files)-retain] {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, f.Path)
	}
	return removed, nil
}
